package order

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Aggregate is the order write model. It converts commands into events and
// folds events into state. Each operation either appends exactly one event to
// the uncommitted buffer or fails without mutating state.
type Aggregate struct {
	id            string
	version       int
	status        Status
	customerName  string
	customerEmail string
	items         []Item
	totalAmount   decimal.Decimal
	orderDate     time.Time
	isDeleted     bool

	uncommitted []Event
}

func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:          id,
		status:      StatusPending,
		totalAmount: decimal.Zero,
	}
}

func (a *Aggregate) ID() string                { return a.id }
func (a *Aggregate) Version() int              { return a.version }
func (a *Aggregate) Status() Status            { return a.status }
func (a *Aggregate) CustomerName() string      { return a.customerName }
func (a *Aggregate) CustomerEmail() string     { return a.customerEmail }
func (a *Aggregate) TotalAmount() decimal.Decimal { return a.totalAmount }
func (a *Aggregate) OrderDate() time.Time      { return a.orderDate }
func (a *Aggregate) IsDeleted() bool           { return a.isDeleted }

func (a *Aggregate) Items() []Item {
	return append([]Item(nil), a.items...)
}

// UncommittedEvents returns the events raised since the last commit.
func (a *Aggregate) UncommittedEvents() []Event {
	return append([]Event(nil), a.uncommitted...)
}

// MarkEventsCommitted clears the uncommitted buffer. It must only be called
// after both the durable append and the bus publish have succeeded.
func (a *Aggregate) MarkEventsCommitted() {
	a.uncommitted = nil
}

// CreateOrder initializes the aggregate from a create command, deriving item
// subtotals and the order total.
func (a *Aggregate) CreateOrder(cmd CreateOrderCommand) error {
	if a.version > 0 {
		return ErrAlreadyExists
	}
	if len(cmd.Items) == 0 {
		return ErrEmptyOrder
	}

	items := make([]Item, 0, len(cmd.Items))
	total := decimal.Zero
	for _, in := range cmd.Items {
		item := buildItem(in)
		items = append(items, item)
		total = total.Add(item.Subtotal)
	}

	a.raise(OrderCreated{
		EventMeta:     newMeta(a.id, a.version+1),
		CustomerName:  cmd.CustomerName,
		CustomerEmail: cmd.CustomerEmail,
		Items:         items,
		TotalAmount:   total,
		OrderDate:     time.Now().UTC(),
	})
	return nil
}

// ChangeStatus advances the order along the status machine.
func (a *Aggregate) ChangeStatus(cmd ChangeStatusCommand) error {
	if a.isDeleted {
		return ErrDeleted
	}
	if a.id != cmd.OrderID {
		return ErrIDMismatch
	}
	if !a.status.CanTransitionTo(cmd.NewStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.status, cmd.NewStatus)
	}

	a.raise(OrderStatusChanged{
		EventMeta:      newMeta(a.id, a.version+1),
		PreviousStatus: a.status,
		NewStatus:      cmd.NewStatus,
		ChangedAt:      time.Now().UTC(),
	})
	return nil
}

// Cancel moves the order to cancelled. Delivered orders cannot be cancelled.
func (a *Aggregate) Cancel(cmd CancelCommand) error {
	if a.isDeleted {
		return ErrDeleted
	}
	if a.id != cmd.OrderID {
		return ErrIDMismatch
	}
	if a.status == StatusDelivered {
		return fmt.Errorf("%w: cannot cancel delivered order", ErrInvalidTransition)
	}

	a.raise(OrderCancelled{
		EventMeta:   newMeta(a.id, a.version+1),
		Reason:      cmd.Reason,
		CancelledAt: time.Now().UTC(),
	})
	return nil
}

// Delete marks the order deleted. Allowed only from pending or cancelled;
// once deleted no further event may be produced for this aggregate.
func (a *Aggregate) Delete(cmd DeleteCommand) error {
	if a.isDeleted {
		return ErrAlreadyDeleted
	}
	if a.id != cmd.OrderID {
		return ErrIDMismatch
	}
	if a.status != StatusPending && a.status != StatusCancelled {
		return ErrInvalidState
	}

	a.raise(OrderDeleted{
		EventMeta: newMeta(a.id, a.version+1),
		DeletedAt: time.Now().UTC(),
	})
	return nil
}

func (a *Aggregate) raise(e Event) {
	a.uncommitted = append(a.uncommitted, e)
	a.apply(e)
}

func (a *Aggregate) apply(e Event) {
	switch evt := e.(type) {
	case OrderCreated:
		a.id = evt.AggregateID
		a.status = StatusPending
		a.customerName = evt.CustomerName
		a.customerEmail = evt.CustomerEmail
		a.items = append([]Item(nil), evt.Items...)
		a.totalAmount = evt.TotalAmount
		a.orderDate = evt.OrderDate
	case OrderStatusChanged:
		a.status = evt.NewStatus
	case OrderCancelled:
		a.status = StatusCancelled
	case OrderDeleted:
		a.isDeleted = true
	}
	a.version = e.Meta().Version
}

// FromEvents rebuilds an aggregate by folding events in ascending version
// order, starting either from the zero state or from a snapshot state. Folding
// the full history and folding a snapshot plus its tail must produce identical
// state for the same terminal version.
func FromEvents(events []Event, snap *State) *Aggregate {
	var a *Aggregate
	if snap != nil {
		a = fromState(*snap)
	} else {
		a = NewAggregate("")
	}

	ordered := append([]Event(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Meta().Version < ordered[j].Meta().Version
	})
	for _, e := range ordered {
		a.apply(e)
	}
	return a
}

// State is the aggregate's snapshot memento.
type State struct {
	ID            string          `json:"id"`
	Version       int             `json:"version"`
	Status        Status          `json:"status"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Items         []Item          `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OrderDate     time.Time       `json:"order_date"`
	IsDeleted     bool            `json:"is_deleted"`
}

// State captures the aggregate's current state for snapshotting.
func (a *Aggregate) State() State {
	return State{
		ID:            a.id,
		Version:       a.version,
		Status:        a.status,
		CustomerName:  a.customerName,
		CustomerEmail: a.customerEmail,
		Items:         append([]Item(nil), a.items...),
		TotalAmount:   a.totalAmount,
		OrderDate:     a.orderDate,
		IsDeleted:     a.isDeleted,
	}
}

func fromState(s State) *Aggregate {
	return &Aggregate{
		id:            s.ID,
		version:       s.Version,
		status:        s.Status,
		customerName:  s.CustomerName,
		customerEmail: s.CustomerEmail,
		items:         append([]Item(nil), s.Items...),
		totalAmount:   s.TotalAmount,
		orderDate:     s.OrderDate,
		isDeleted:     s.IsDeleted,
	}
}
