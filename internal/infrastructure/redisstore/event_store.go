package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

const (
	versionSuffix  = ":version"
	snapshotPrefix = "snapshots:"
	envelopeField  = "envelope"
	snapshotField  = "snapshot"
)

// saveScript makes the version check and the appends one atomic operation on
// the server. Returns -1 on a version mismatch without touching the stream.
var saveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
if current ~= tonumber(ARGV[1]) then
  return -1
end
for i = 3, #ARGV do
  redis.call("XADD", KEYS[1], "*", "envelope", ARGV[i])
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// EventStore persists event streams on Redis: one stream per aggregate under
// "events:<id>" with a version counter at "events:<id>:version", and snapshots
// under "snapshots:<id>".
type EventStore struct {
	client *redis.Client
}

func NewEventStore(client *redis.Client) *EventStore {
	return &EventStore{client: client}
}

func (s *EventStore) SaveEvents(ctx context.Context, aggregateID string, events []event.Envelope, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}

	stream := event.StreamName(aggregateID)
	args := make([]any, 0, len(events)+2)
	args = append(args, expectedVersion, events[len(events)-1].Version)
	for _, env := range events {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("event store: marshal envelope %s: %w", env.EventID, err)
		}
		args = append(args, string(payload))
	}

	res, err := saveScript.Run(ctx, s.client, []string{stream, stream + versionSuffix}, args...).Int64()
	if err != nil {
		return mapErr(err)
	}
	if res < 0 {
		return fmt.Errorf("%w: aggregate %s at expected version %d", event.ErrConcurrencyConflict, aggregateID, expectedVersion)
	}
	return nil
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]event.Envelope, error) {
	envs, err := s.readStream(ctx, event.StreamName(aggregateID))
	if err != nil {
		return nil, err
	}

	out := envs[:0]
	for _, env := range envs {
		if env.Version > fromVersion {
			out = append(out, env)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *EventStore) GetAllEvents(ctx context.Context, from time.Time) ([]event.Envelope, error) {
	keys, err := s.client.Keys(ctx, event.StreamName("*")).Result()
	if err != nil {
		return nil, mapErr(err)
	}

	var out []event.Envelope
	for _, key := range keys {
		if strings.HasSuffix(key, versionSuffix) {
			continue
		}
		envs, err := s.readStream(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, env := range envs {
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
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("event store: marshal snapshot: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: snapshotPrefix + snap.AggregateID,
		Values: map[string]any{snapshotField: string(payload)},
	}).Err()
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *EventStore) LatestSnapshot(ctx context.Context, aggregateID string) (event.Snapshot, error) {
	msgs, err := s.client.XRevRangeN(ctx, snapshotPrefix+aggregateID, "+", "-", 1).Result()
	if err != nil {
		return event.Snapshot{}, mapErr(err)
	}
	if len(msgs) == 0 {
		return event.Snapshot{}, event.ErrNoSnapshot
	}

	raw, ok := msgs[0].Values[snapshotField].(string)
	if !ok {
		return event.Snapshot{}, fmt.Errorf("event store: malformed snapshot entry for %s", aggregateID)
	}

	var snap event.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return event.Snapshot{}, fmt.Errorf("event store: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *EventStore) readStream(ctx context.Context, stream string) ([]event.Envelope, error) {
	msgs, err := s.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, mapErr(err)
	}

	envs := make([]event.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[envelopeField].(string)
		if !ok {
			return nil, fmt.Errorf("event store: malformed stream entry %s in %s", msg.ID, stream)
		}
		var env event.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("event store: unmarshal envelope %s: %w", msg.ID, err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", event.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", event.ErrStorageUnavailable, err)
	}
}
