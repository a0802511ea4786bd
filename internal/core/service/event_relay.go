package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// EventRelay publishes committed outbox events. Delivery is at least once: an
// event whose publish succeeded but whose sent mark failed goes out again.
type EventRelay struct {
	outbox    port.OutboxRepository
	publisher port.EventPublisher
	observer  port.RelayObserver
	logger    *zap.Logger
	workers   int
	batchSize int
}

func NewEventRelay(outbox port.OutboxRepository, publisher port.EventPublisher, observer port.RelayObserver, logger *zap.Logger, workers, batchSize int) *EventRelay {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EventRelay{
		outbox:    outbox,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		workers:   workers,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce fetches one batch of pending events and fans it out over the
// worker pool. It returns the number of events marked sent.
func (r *EventRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.outbox.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	queue := make(chan domain.OutboxEvent, len(events))
	for _, e := range events {
		queue <- e
	}
	close(queue)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			n := r.workerLoop(ctx, id, queue)
			mu.Lock()
			sent += n
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	return sent, nil
}

func (r *EventRelay) workerLoop(ctx context.Context, id int, queue <-chan domain.OutboxEvent) int {
	sent := 0
	for event := range queue {
		if err := r.publisher.Publish(ctx, event.Key, event.Type, event.Payload); err != nil {
			r.logger.Warn("publish event",
				zap.Int("worker", id),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			r.observe("publish_failed")
			continue
		}

		if err := r.outbox.MarkEventSent(ctx, event.ID); err != nil {
			r.logger.Warn("mark event sent",
				zap.Int("worker", id),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			r.observe("mark_failed")
			continue
		}

		r.observe("published")
		sent++
	}
	return sent
}

func (r *EventRelay) observe(result string) {
	if r.observer != nil {
		r.observer.ObservePublish(result)
	}
}
