package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingMarker     = "pending"
	idempotencyKeyTTL = 24 * time.Hour
	pendingKeyTTL     = 30 * time.Second
)

// releaseScript deletes a key only while it still holds the pending marker, so
// a completed placement is never forgotten.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local marker = ARGV[1]

local current = redis.call('GET', key)
if current == marker then
	redis.call('DEL', key)
	return 1
end

return 0
`)

// completeScript swaps the pending marker for the order id and extends the key
// to the full TTL. An expired key is recreated.
var completeScript = redis.NewScript(`
local key = KEYS[1]
local marker = ARGV[1]
local orderID = ARGV[2]
local ttl = tonumber(ARGV[3])

local current = redis.call('GET', key)
if current == marker or not current then
	redis.call('SET', key, orderID, 'EX', ttl)
	return 1
end

return 0
`)

// RedisAdapter stores placement idempotency keys. A pending key expires after
// pendingTTL so a crashed placement does not block retries; a completed key
// lives for ttl.
type RedisAdapter struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl, pendingTTL time.Duration) *RedisAdapter {
	if ttl < time.Second {
		ttl = idempotencyKeyTTL
	}
	if pendingTTL < time.Second {
		pendingTTL = pendingKeyTTL
	}
	if pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &RedisAdapter{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, key, pendingMarker, r.pendingTTL).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	current, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; the caller retries as in flight.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if current == pendingMarker {
		return false, "", nil
	}
	return false, current, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key, orderID string) error {
	return completeScript.Run(ctx, r.client, []string{key}, pendingMarker, orderID, int64(r.ttl/time.Second)).Err()
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, pendingMarker).Err()
}
