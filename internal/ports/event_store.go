package ports

import "context"

// Event is one row of the append-only log. The store never updates or
// deletes a row; every read model is a fold over the sequence.
type Event struct {
	EventID        string
	EventType      string
	AggregateID    string
	Payload        map[string]any
	Actor          string
	CreatedAt      string
	IdempotencyKey string
}

type EventAppend struct {
	EventType   string
	AggregateID string
	Payload     map[string]any
	Actor       string
	// IdempotencyKey, when set, makes the append idempotent: a second
	// append with the same key is a no-op returning the stored event.
	IdempotencyKey string
}

type EventStore interface {
	// Append durably inserts an event. The returned bool is false when an
	// idempotency key matched an existing event and nothing was written.
	Append(ctx context.Context, input EventAppend) (Event, bool, error)
	ListByAggregate(ctx context.Context, aggregateID string) ([]Event, error)
	ListByType(ctx context.Context, eventType string, limit int) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
