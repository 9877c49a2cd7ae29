package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
)

// Feed is the in-memory bus feed: a single ordered channel shared by all
// aggregates, read by the bus consumer through a cursor.
type Feed struct {
	mu      sync.RWMutex
	entries []event.FeedEntry
}

func NewFeed() *Feed {
	return &Feed{}
}

func (f *Feed) Append(ctx context.Context, env event.Envelope) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, event.FeedEntry{
		ID:       strconv.FormatInt(int64(len(f.entries)+1), 10),
		Envelope: env,
	})
	return nil
}

func (f *Feed) ReadAfter(ctx context.Context, cursor string, limit int) ([]event.FeedEntry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	after := int64(0)
	if cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, err
		}
		after = parsed
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if after >= int64(len(f.entries)) {
		return nil, nil
	}

	rest := f.entries[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]event.FeedEntry(nil), rest...), nil
}
