package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeOrderCreated       = "OrderCreated"
	TypeOrderStatusChanged = "OrderStatusChanged"
	TypeOrderCancelled     = "OrderCancelled"
	TypeOrderDeleted       = "OrderDeleted"
)

// Event is the closed set of order domain events. Events are immutable facts;
// the aggregate's state is derived solely by folding them in version order.
type Event interface {
	Meta() EventMeta
	EventType() string
	sealed()
}

// EventMeta carries the fields common to every order event.
type EventMeta struct {
	EventID     string    `json:"event_id"`
	AggregateID string    `json:"aggregate_id"`
	Version     int       `json:"version"`
	OccurredOn  time.Time `json:"occurred_on"`
}

func (m EventMeta) Meta() EventMeta { return m }
func (EventMeta) sealed()           {}

func newMeta(aggregateID string, version int) EventMeta {
	return EventMeta{
		EventID:     uuid.NewString(),
		AggregateID: aggregateID,
		Version:     version,
		OccurredOn:  time.Now().UTC(),
	}
}

type OrderCreated struct {
	EventMeta
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Items         []Item          `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OrderDate     time.Time       `json:"order_date"`
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

type OrderStatusChanged struct {
	EventMeta
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	ChangedAt      time.Time `json:"changed_at"`
}

func (OrderStatusChanged) EventType() string { return TypeOrderStatusChanged }

type OrderCancelled struct {
	EventMeta
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

type OrderDeleted struct {
	EventMeta
	DeletedAt time.Time `json:"deleted_at"`
}

func (OrderDeleted) EventType() string { return TypeOrderDeleted }
