package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrConcurrencyConflict = errors.New("event: concurrency conflict")
	ErrTimeout             = errors.New("event: operation timed out")
	ErrStorageUnavailable  = errors.New("event: storage unavailable")
	ErrNoSnapshot          = errors.New("event: no snapshot")
)

const streamPrefix = "events:"

// StreamName returns the per-aggregate stream key for an aggregate id.
func StreamName(aggregateID string) string {
	return streamPrefix + aggregateID
}

// Envelope is the persisted form of a domain event. It is immutable once
// appended; the store never rewrites or deletes envelopes.
type Envelope struct {
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Version     int             `json:"version"`
	OccurredOn  time.Time       `json:"occurred_on"`
	StreamName  string          `json:"stream_name"`
	Payload     json.RawMessage `json:"payload"`
}

// Snapshot is a cached fold result for one aggregate. It is an optimization
// only; callers must always read the event tail past Version before trusting it.
type Snapshot struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int             `json:"version"`
	State       json.RawMessage `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store is the append-only event log with a per-aggregate version pointer and
// a snapshot side-store.
type Store interface {
	// SaveEvents atomically verifies the aggregate's persisted version equals
	// expectedVersion and appends all envelopes in order, advancing the pointer
	// to the last envelope's version. On mismatch it fails with
	// ErrConcurrencyConflict and appends nothing.
	SaveEvents(ctx context.Context, aggregateID string, events []Envelope, expectedVersion int) error

	// GetEvents returns the aggregate's envelopes with version > fromVersion,
	// ordered by version ascending.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]Envelope, error)

	// GetAllEvents returns every envelope across every aggregate ordered by
	// occurrence time ascending. A zero `from` means the full history. This is
	// a batch operation for replay, not the command path.
	GetAllEvents(ctx context.Context, from time.Time) ([]Envelope, error)

	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LatestSnapshot returns the most recent snapshot by version, or
	// ErrNoSnapshot when the aggregate has none.
	LatestSnapshot(ctx context.Context, aggregateID string) (Snapshot, error)
}
