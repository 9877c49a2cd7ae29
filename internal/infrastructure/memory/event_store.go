package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
)

// EventStore is an in-memory append-only event log with per-aggregate version
// pointers and a snapshot side-store. The version check and the append happen
// under one lock, so check-and-append is a single conditional operation.
type EventStore struct {
	mu        sync.RWMutex
	streams   map[string][]event.Envelope
	versions  map[string]int
	snapshots map[string][]event.Snapshot
}

func NewEventStore() *EventStore {
	return &EventStore{
		streams:   make(map[string][]event.Envelope),
		versions:  make(map[string]int),
		snapshots: make(map[string][]event.Snapshot),
	}
}

func (s *EventStore) SaveEvents(ctx context.Context, aggregateID string, events []event.Envelope, expectedVersion int) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.versions[aggregateID]
	if current != expectedVersion {
		return fmt.Errorf("%w: expected version %d, current version %d", event.ErrConcurrencyConflict, expectedVersion, current)
	}

	next := current
	for _, env := range events {
		next++
		if env.Version != next {
			return fmt.Errorf("event store: non-contiguous version %d after %d for aggregate %s", env.Version, next-1, aggregateID)
		}
	}

	s.streams[aggregateID] = append(s.streams[aggregateID], events...)
	s.versions[aggregateID] = events[len(events)-1].Version
	return nil
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]event.Envelope, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Envelope
	for _, env := range s.streams[aggregateID] {
		if env.Version > fromVersion {
			out = append(out, env)
		}
	}
	return out, nil
}

func (s *EventStore) GetAllEvents(ctx context.Context, from time.Time) ([]event.Envelope, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Envelope
	for _, stream := range s.streams {
		for _, env := range stream {
			if from.IsZero() || !env.OccurredOn.Before(from) {
				out = append(out, env)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].Version < out[j].Version
		}
		return out[i].OccurredOn.Before(out[j].OccurredOn)
	})
	return out, nil
}

func (s *EventStore) SaveSnapshot(ctx context.Context, snap event.Snapshot) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.AggregateID] = append(s.snapshots[snap.AggregateID], snap)
	return nil
}

func (s *EventStore) LatestSnapshot(ctx context.Context, aggregateID string) (event.Snapshot, error) {
	if err := ctxErr(ctx); err != nil {
		return event.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[aggregateID]
	if len(snaps) == 0 {
		return event.Snapshot{}, event.ErrNoSnapshot
	}

	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.Version > latest.Version {
			latest = snap
		}
	}
	return latest, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", event.ErrTimeout, err)
		}
		return err
	}
	return nil
}
