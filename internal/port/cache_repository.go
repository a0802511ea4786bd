package port

import "context"

type IdempotencyStore interface {
	// Claim marks key as in flight. If the key already exists it returns false
	// and the order id stored for it, empty while the first request is running
	Claim(ctx context.Context, key string) (bool, string, error)

	// Complete records the order id produced for key
	Complete(ctx context.Context, key, orderID string) error

	// Release drops an in-flight key so the request can be retried
	Release(ctx context.Context, key string) error
}
