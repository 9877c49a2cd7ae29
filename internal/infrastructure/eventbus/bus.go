package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
	"github.com/Zhima-Mochi/orderstream/internal/observability/logctx"
)

const componentBus = "event_bus"

// DispatchResult reports the outcome of delivering one feed entry to its
// registered handlers. Handler failures are isolated: they are recorded here
// and logged, never propagated back to the publisher.
type DispatchResult struct {
	EventID   string
	EventType string
	Handlers  int
	Errors    []error
}

func (r DispatchResult) Failed() bool { return len(r.Errors) > 0 }

// Bus distributes committed events to projection handlers. Publish appends to
// a shared durable feed; a single background consumer polls the feed after an
// in-memory cursor and dispatches entries to handlers in registration order.
// Because the cursor is not persisted, a restart redelivers the feed from the
// beginning; handlers must be idempotent with respect to redelivery.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]event.Handler

	feed     event.Feed
	interval time.Duration
	batch    int

	cursorMu sync.Mutex
	cursor   string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	log         observability.Logger
	dispatches  observability.Counter
	pubFails    observability.Counter
	pollSeconds observability.BoundHistogram
}

func New(feed event.Feed, interval time.Duration, batch int, tel observability.Observability) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 256
	}
	return &Bus{
		subs:        make(map[string][]event.Handler),
		feed:        feed,
		interval:    interval,
		batch:       batch,
		done:        make(chan struct{}),
		log:         tel.Logger().With(observability.F("component", componentBus)),
		dispatches:  tel.Metrics().Counter(observability.MBusDispatches),
		pubFails:    tel.Metrics().Counter(observability.MBusPublishFailures),
		pollSeconds: tel.Metrics().Histogram(observability.MBusPollDuration).Bind(),
	}
}

func (b *Bus) Subscribe(eventType string, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

// Publish appends envelopes to the feed. It does not wait for delivery; the
// write path only pays for the feed append, never for downstream handlers.
func (b *Bus) Publish(ctx context.Context, envs []event.Envelope) error {
	for _, env := range envs {
		if err := b.feed.Append(ctx, env); err != nil {
			b.pubFails.Add(1, observability.L("event", env.EventType))
			return fmt.Errorf("bus: append %s: %w", env.EventType, err)
		}
		logctx.FromOr(ctx, b.log).Debug("event_enqueued",
			observability.F("event", env.EventType),
			observability.F("aggregate_id", env.AggregateID),
		)
	}
	return nil
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go b.consumeLoop(bg)
		b.log.Info("event_bus_started",
			observability.F("poll_interval", b.interval.String()),
		)
	})
}

// Stop cancels the consumer and waits for the in-flight poll cycle to drain,
// or for ctx to expire. Stopping a bus that was never started returns
// immediately and makes any later Start a no-op.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		// Claim the start slot: if no consumer ran there is nothing to
		// drain, and Start must not spawn one after shutdown.
		b.startOnce.Do(func() {})
		if b.cancel != nil {
			b.cancel()
			select {
			case <-b.done:
			case <-ctx.Done():
			}
		}
		b.log.Info("event_bus_stopped")
	})
}

func (b *Bus) consumeLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.ProcessPending(context.WithoutCancel(ctx)); err != nil {
				b.log.Warn("event_poll_failed", observability.F("error", err))
			}
		}
	}
}

// ProcessPending reads one batch past the cursor and dispatches it. It is the
// body of the consumer loop, exported so tests and operators can force a cycle.
func (b *Bus) ProcessPending(ctx context.Context) ([]DispatchResult, error) {
	b.cursorMu.Lock()
	defer b.cursorMu.Unlock()

	started := time.Now()
	defer func() { b.pollSeconds.Observe(time.Since(started).Seconds()) }()

	entries, err := b.feed.ReadAfter(ctx, b.cursor, b.batch)
	if err != nil {
		return nil, fmt.Errorf("bus: read feed: %w", err)
	}

	results := make([]DispatchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, b.dispatch(ctx, entry.Envelope))
		b.cursor = entry.ID
	}
	return results, nil
}

func (b *Bus) dispatch(ctx context.Context, env event.Envelope) DispatchResult {
	b.mu.RLock()
	handlers := append([]event.Handler(nil), b.subs[env.EventType]...)
	b.mu.RUnlock()

	res := DispatchResult{
		EventID:   env.EventID,
		EventType: env.EventType,
		Handlers:  len(handlers),
	}

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", env.EventType))
		return res
	}

	for i, h := range handlers {
		if err := b.callHandler(ctx, h, env); err != nil {
			res.Errors = append(res.Errors, err)
			b.log.Error("event_handler_failed",
				observability.F("event", env.EventType),
				observability.F("event_id", env.EventID),
				observability.F("handler_index", i),
				observability.F("error", err),
			)
		}
	}

	outcome := "success"
	if res.Failed() {
		outcome = "error"
	}
	b.dispatches.Add(1,
		observability.L("event", env.EventType),
		observability.L("outcome", outcome),
	)
	return res
}

func (b *Bus) callHandler(ctx context.Context, h event.Handler, env event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, env)
}
