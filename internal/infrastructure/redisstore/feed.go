package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

const feedStream = "event-bus"

// Feed is the shared bus channel backed by a single Redis stream. Entry IDs
// double as consumer cursors.
type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func (f *Feed) Append(ctx context.Context, env event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("feed: marshal envelope %s: %w", env.EventID, err)
	}

	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: feedStream,
		Values: map[string]any{envelopeField: string(payload)},
	}).Err()
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (f *Feed) ReadAfter(ctx context.Context, cursor string, limit int) ([]event.FeedEntry, error) {
	if cursor == "" {
		cursor = "0"
	}

	streams, err := f.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{feedStream, cursor},
		Count:   int64(limit),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}

	var entries []event.FeedEntry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values[envelopeField].(string)
			if !ok {
				return nil, fmt.Errorf("feed: malformed entry %s", msg.ID)
			}
			var env event.Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				return nil, fmt.Errorf("feed: unmarshal entry %s: %w", msg.ID, err)
			}
			entries = append(entries, event.FeedEntry{ID: msg.ID, Envelope: env})
		}
	}
	return entries, nil
}
