package order

import (
	"encoding/json"
	"fmt"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
)

// Envelopes converts domain events into stored-event envelopes.
func Envelopes(events []Event) ([]event.Envelope, error) {
	envs := make([]event.Envelope, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("order: marshal %s: %w", e.EventType(), err)
		}
		meta := e.Meta()
		envs = append(envs, event.Envelope{
			EventID:     meta.EventID,
			AggregateID: meta.AggregateID,
			EventType:   e.EventType(),
			Version:     meta.Version,
			OccurredOn:  meta.OccurredOn,
			StreamName:  event.StreamName(meta.AggregateID),
			Payload:     payload,
		})
	}
	return envs, nil
}

// FromEnvelopes decodes stored-event envelopes back into domain events.
func FromEnvelopes(envs []event.Envelope) ([]Event, error) {
	events := make([]Event, 0, len(envs))
	for _, env := range envs {
		e, err := UnmarshalEvent(env.EventType, env.Payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// UnmarshalEvent decodes a single event payload by its type name.
func UnmarshalEvent(eventType string, payload []byte) (Event, error) {
	switch eventType {
	case TypeOrderCreated:
		var e OrderCreated
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("order: unmarshal %s: %w", eventType, err)
		}
		return e, nil
	case TypeOrderStatusChanged:
		var e OrderStatusChanged
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("order: unmarshal %s: %w", eventType, err)
		}
		return e, nil
	case TypeOrderCancelled:
		var e OrderCancelled
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("order: unmarshal %s: %w", eventType, err)
		}
		return e, nil
	case TypeOrderDeleted:
		var e OrderDeleted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("order: unmarshal %s: %w", eventType, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}
}
