package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	domain "github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIDs struct{ id string }

func (s stubIDs) NewID() string { return s.id }

type capturePublisher struct {
	envs []event.Envelope
	err  error
}

func (p *capturePublisher) Publish(ctx context.Context, envs []event.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.envs = append(p.envs, envs...)
	return nil
}

type conflictStore struct {
	event.Store
}

func (s conflictStore) SaveEvents(ctx context.Context, aggregateID string, events []event.Envelope, expectedVersion int) error {
	return event.ErrConcurrencyConflict
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerName:  "Alice Jones",
		CustomerEmail: "alice@example.com",
		Items: []domain.ItemInput{
			{ProductID: "p-1", ProductName: "Widget", Quantity: 2, Price: decimal.NewFromInt(10)},
			{ProductID: "p-2", ProductName: "Gadget", Quantity: 1, Price: decimal.NewFromInt(5)},
		},
	}
}

func newService(t *testing.T) (*CommandService, *memory.EventStore, *capturePublisher) {
	t.Helper()
	store := memory.NewEventStore()
	pub := &capturePublisher{}
	svc := NewCommandService(store, pub, stubIDs{id: "order-1"}, nil)
	return svc, store, pub
}

func TestCreateOrderPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)

	envs, err := store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, domain.TypeOrderCreated, envs[0].EventType)
	assert.Equal(t, 1, envs[0].Version)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, envs[0].EventID, pub.envs[0].EventID)
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"short name", func(in *CreateOrderInput) { in.CustomerName = "A" }},
		{"bad email", func(in *CreateOrderInput) { in.CustomerEmail = "not-an-email" }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"missing product id", func(in *CreateOrderInput) { in.Items[0].ProductID = "" }},
		{"missing product name", func(in *CreateOrderInput) { in.Items[0].ProductName = "" }},
		{"zero quantity", func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *CreateOrderInput) { in.Items[0].Price = decimal.NewFromInt(-1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.CreateOrder(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestChangeStatusAppendsNextVersion(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.ChangeStatus(ctx, orderID, domain.StatusConfirmed))

	envs, err := store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, domain.TypeOrderStatusChanged, envs[1].EventType)
	assert.Equal(t, 2, envs[1].Version)
	assert.Len(t, pub.envs, 2)
}

func TestChangeStatusUnknownOrder(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.ChangeStatus(context.Background(), "missing", domain.StatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeStatusInvalidTransition(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	err = svc.ChangeStatus(ctx, orderID, domain.StatusDelivered)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// The rejected command must not have appended anything.
	envs, err := store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestCancelAndDeleteFlow(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, orderID, "out of stock"))
	require.NoError(t, svc.Delete(ctx, orderID))

	envs, err := store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, domain.TypeOrderCancelled, envs[1].EventType)
	assert.Equal(t, domain.TypeOrderDeleted, envs[2].EventType)

	// Deleted aggregates reject further commands.
	err = svc.Cancel(ctx, orderID, "again")
	assert.ErrorIs(t, err, domain.ErrDeleted)
}

func TestDeleteRejectedOutsidePendingOrCancelled(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.ChangeStatus(ctx, orderID, domain.StatusConfirmed))

	err = svc.Delete(ctx, orderID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAppendFailurePublishesNothing(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	svc := NewCommandService(conflictStore{Store: memory.NewEventStore()}, pub, stubIDs{id: "order-1"}, nil)

	_, err := svc.CreateOrder(ctx, validInput())
	require.ErrorIs(t, err, event.ErrConcurrencyConflict)
	assert.Empty(t, pub.envs, "nothing may reach the bus when the append fails")
}

func TestPublishFailureSurfacesError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("feed down")
	pub := &capturePublisher{err: boom}
	svc := NewCommandService(memory.NewEventStore(), pub, stubIDs{id: "order-1"}, nil)

	_, err := svc.CreateOrder(ctx, validInput())
	assert.ErrorIs(t, err, boom)
}

func TestLoadAggregateUsesSnapshotPlusTail(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	orderID, err := svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.ChangeStatus(ctx, orderID, domain.StatusConfirmed))

	// Snapshot the state at version 2 by folding the stream directly.
	envs, err := store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	events, err := domain.FromEnvelopes(envs)
	require.NoError(t, err)
	agg := domain.FromEvents(events, nil)
	state, err := json.Marshal(agg.State())
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, event.Snapshot{
		AggregateID: orderID,
		Version:     agg.Version(),
		State:       state,
		CreatedAt:   time.Now().UTC(),
	}))

	// The next command must load from the snapshot and still land on version 3.
	require.NoError(t, svc.ChangeStatus(ctx, orderID, domain.StatusProcessing))

	envs, err = store.GetEvents(ctx, orderID, 0)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, 3, envs[2].Version)
}
