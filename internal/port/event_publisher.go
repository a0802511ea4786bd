package port

import (
	"context"
	"time"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, eventType string, payload []byte) error
}

// PlacementObserver receives the outcome of every placement attempt.
type PlacementObserver interface {
	ObservePlacement(outcome string, elapsed time.Duration)
}

type RelayObserver interface {
	ObservePublish(result string)
}
