package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	domain "github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
)

const componentCommandService = "order_command_service"

const (
	useCaseCreate       = "order.create"
	useCaseChangeStatus = "order.change_status"
	useCaseCancel       = "order.cancel"
	useCaseDelete       = "order.delete"
)

// ErrValidation marks malformed command input; the caller's fault,
// non-retryable as-is.
var ErrValidation = errors.New("order: validation")

// CommandService is the write side: it loads or creates the aggregate,
// invokes the matching operation, appends the produced events under the
// store's concurrency guard, publishes them on the bus, and only then clears
// the aggregate's pending-event buffer.
type CommandService struct {
	store event.Store
	bus   event.Publisher
	ids   IDGenerator
	in    instruments
}

func NewCommandService(store event.Store, bus event.Publisher, ids IDGenerator, tel observability.Observability) *CommandService {
	return &CommandService{
		store: store,
		bus:   bus,
		ids:   ids,
		in:    newInstruments(tel, componentCommandService),
	}
}

type CreateOrderInput struct {
	CustomerName  string
	CustomerEmail string
	Items         []domain.ItemInput
}

func (s *CommandService) CreateOrder(ctx context.Context, input CreateOrderInput) (orderID string, err error) {
	ctx, logger, done := s.in.observe(ctx, useCaseCreate)
	defer func() { done(err) }()

	if err = validateCreate(input); err != nil {
		return "", err
	}

	orderID = s.ids.NewID()
	agg := domain.NewAggregate(orderID)
	if err = agg.CreateOrder(domain.NewCreateOrderCommand(input.CustomerName, input.CustomerEmail, input.Items)); err != nil {
		return "", err
	}

	if err = s.commit(ctx, agg, 0); err != nil {
		return "", err
	}

	logger.Info("order_created",
		observability.F("order_id", orderID),
		observability.F("total_amount", agg.TotalAmount().String()),
	)
	return orderID, nil
}

func (s *CommandService) ChangeStatus(ctx context.Context, orderID string, newStatus domain.Status) (err error) {
	ctx, logger, done := s.in.observe(ctx, useCaseChangeStatus)
	defer func() { done(err) }()

	agg, err := s.loadAggregate(ctx, orderID)
	if err != nil {
		return err
	}
	if err = agg.ChangeStatus(domain.NewChangeStatusCommand(orderID, newStatus)); err != nil {
		return err
	}

	expected := agg.Version() - len(agg.UncommittedEvents())
	if err = s.commit(ctx, agg, expected); err != nil {
		return err
	}

	logger.Info("order_status_changed",
		observability.F("order_id", orderID),
		observability.F("status", string(newStatus)),
	)
	return nil
}

func (s *CommandService) Cancel(ctx context.Context, orderID, reason string) (err error) {
	ctx, logger, done := s.in.observe(ctx, useCaseCancel)
	defer func() { done(err) }()

	agg, err := s.loadAggregate(ctx, orderID)
	if err != nil {
		return err
	}
	if err = agg.Cancel(domain.NewCancelCommand(orderID, reason)); err != nil {
		return err
	}

	expected := agg.Version() - len(agg.UncommittedEvents())
	if err = s.commit(ctx, agg, expected); err != nil {
		return err
	}

	logger.Info("order_cancelled", observability.F("order_id", orderID))
	return nil
}

func (s *CommandService) Delete(ctx context.Context, orderID string) (err error) {
	ctx, logger, done := s.in.observe(ctx, useCaseDelete)
	defer func() { done(err) }()

	agg, err := s.loadAggregate(ctx, orderID)
	if err != nil {
		return err
	}
	if err = agg.Delete(domain.NewDeleteCommand(orderID)); err != nil {
		return err
	}

	expected := agg.Version() - len(agg.UncommittedEvents())
	if err = s.commit(ctx, agg, expected); err != nil {
		return err
	}

	logger.Info("order_deleted", observability.F("order_id", orderID))
	return nil
}

// commit appends the aggregate's uncommitted events at the expected version,
// publishes them, and clears the buffer. When the append fails nothing is
// published and the buffer stays intact; on ConcurrencyConflict the caller
// must reload and retry.
func (s *CommandService) commit(ctx context.Context, agg *domain.Aggregate, expectedVersion int) error {
	envs, err := domain.Envelopes(agg.UncommittedEvents())
	if err != nil {
		return err
	}
	if err := s.store.SaveEvents(ctx, agg.ID(), envs, expectedVersion); err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, envs); err != nil {
		return err
	}
	agg.MarkEventsCommitted()
	return nil
}

// loadAggregate rebuilds the aggregate from its latest snapshot (if any) plus
// the event tail past the snapshot's version.
func (s *CommandService) loadAggregate(ctx context.Context, orderID string) (*domain.Aggregate, error) {
	var state *domain.State
	fromVersion := 0

	snap, err := s.store.LatestSnapshot(ctx, orderID)
	switch {
	case err == nil:
		var decoded domain.State
		if uerr := json.Unmarshal(snap.State, &decoded); uerr != nil {
			return nil, fmt.Errorf("order: decode snapshot for %s: %w", orderID, uerr)
		}
		state = &decoded
		fromVersion = snap.Version
	case errors.Is(err, event.ErrNoSnapshot):
		// fold from the beginning
	default:
		return nil, err
	}

	envs, err := s.store.GetEvents(ctx, orderID, fromVersion)
	if err != nil {
		return nil, err
	}
	if state == nil && len(envs) == 0 {
		return nil, domain.ErrNotFound
	}

	events, err := domain.FromEnvelopes(envs)
	if err != nil {
		return nil, err
	}
	return domain.FromEvents(events, state), nil
}

func validateCreate(input CreateOrderInput) error {
	if n := len(input.CustomerName); n < 2 || n > 100 {
		return fmt.Errorf("%w: customer name must be 2-100 characters", ErrValidation)
	}
	if _, err := mail.ParseAddress(input.CustomerEmail); err != nil {
		return fmt.Errorf("%w: invalid customer email", ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for i, item := range input.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d: product id is required", ErrValidation, i)
		}
		if item.ProductName == "" {
			return fmt.Errorf("%w: item %d: product name is required", ErrValidation, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d: quantity must be at least 1", ErrValidation, i)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: item %d: price must not be negative", ErrValidation, i)
		}
	}
	return nil
}
