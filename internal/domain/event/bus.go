package event

import "context"

// Handler processes one delivered envelope.
type Handler func(ctx context.Context, env Envelope) error

// Publisher writes committed envelopes to the shared bus feed.
type Publisher interface {
	Publish(ctx context.Context, envs []Envelope) error
}

// Subscriber registers handlers for event types. Handlers for the same type
// are dispatched in registration order.
type Subscriber interface {
	Subscribe(eventType string, h Handler)
}

// FeedEntry is an envelope together with its position on the bus feed.
type FeedEntry struct {
	ID       string
	Envelope Envelope
}

// Feed is the shared, independently durable ordered channel the bus publishes
// to. It is distinct from the per-aggregate streams so the write path's
// latency does not depend on how many downstream handlers exist.
type Feed interface {
	Append(ctx context.Context, env Envelope) error

	// ReadAfter returns up to limit entries strictly after the given cursor.
	// An empty cursor reads from the beginning of the feed.
	ReadAfter(ctx context.Context, cursor string, limit int) ([]FeedEntry, error)
}
