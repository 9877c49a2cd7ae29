package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(aggregateID string, version int, occurredOn time.Time) event.Envelope {
	return event.Envelope{
		EventID:     fmt.Sprintf("%s-%d", aggregateID, version),
		AggregateID: aggregateID,
		EventType:   "OrderCreated",
		Version:     version,
		OccurredOn:  occurredOn,
		StreamName:  event.StreamName(aggregateID),
		Payload:     json.RawMessage(`{}`),
	}
}

func TestSaveEventsAppendsAndAdvancesVersion(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	now := time.Now().UTC()

	err := store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 1, now), envelope("a", 2, now)}, 0)
	require.NoError(t, err)

	err = store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 3, now)}, 2)
	require.NoError(t, err)

	got, err := store.GetEvents(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, env := range got {
		assert.Equal(t, i+1, env.Version)
	}
}

func TestSaveEventsVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 1, now)}, 0))

	err := store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 2, now)}, 0)
	require.ErrorIs(t, err, event.ErrConcurrencyConflict)

	// Nothing appended on conflict.
	got, err := store.GetEvents(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveEventsExactlyOneConcurrentWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 1, now)}, 0))

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 2, now)}, 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, event.ErrConcurrencyConflict)
		}
	}
	assert.Equal(t, 1, winners)

	got, err := store.GetEvents(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetEventsAfterVersion(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveEvents(ctx, "a", []event.Envelope{
		envelope("a", 1, now), envelope("a", 2, now), envelope("a", 3, now),
	}, 0))

	got, err := store.GetEvents(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Version)

	got, err = store.GetEvents(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetAllEventsOrdersByOccurrence(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	base := time.Now().UTC()

	require.NoError(t, store.SaveEvents(ctx, "b", []event.Envelope{envelope("b", 1, base.Add(2 * time.Second))}, 0))
	require.NoError(t, store.SaveEvents(ctx, "a", []event.Envelope{
		envelope("a", 1, base),
		envelope("a", 2, base.Add(time.Second)),
	}, 0))

	got, err := store.GetAllEvents(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a-1", got[0].EventID)
	assert.Equal(t, "a-2", got[1].EventID)
	assert.Equal(t, "b-1", got[2].EventID)

	// A from-time keeps only events at or after the cut.
	got, err = store.GetAllEvents(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-2", got[0].EventID)
}

func TestLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	_, err := store.LatestSnapshot(ctx, "a")
	require.ErrorIs(t, err, event.ErrNoSnapshot)

	require.NoError(t, store.SaveSnapshot(ctx, event.Snapshot{AggregateID: "a", Version: 2, State: json.RawMessage(`{}`)}))
	require.NoError(t, store.SaveSnapshot(ctx, event.Snapshot{AggregateID: "a", Version: 5, State: json.RawMessage(`{}`)}))

	snap, err := store.LatestSnapshot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Version)
}

func TestStoreHonorsContextDeadline(t *testing.T) {
	store := NewEventStore()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := store.SaveEvents(ctx, "a", []event.Envelope{envelope("a", 1, time.Now())}, 0)
	assert.ErrorIs(t, err, event.ErrTimeout)
}

func TestFeedCursorReads(t *testing.T) {
	ctx := context.Background()
	feed := NewFeed()
	now := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		require.NoError(t, feed.Append(ctx, envelope("a", i, now)))
	}

	entries, err := feed.ReadAfter(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].ID)

	entries, err = feed.ReadAfter(ctx, entries[len(entries)-1].ID, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "4", entries[0].ID)

	entries, err = feed.ReadAfter(ctx, entries[len(entries)-1].ID, 3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
