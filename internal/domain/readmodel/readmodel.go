package readmodel

import (
	"context"
	"errors"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("readmodel: not found")

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	Status    order.Status `json:"status"`
	ChangedAt time.Time    `json:"changed_at"`
}

// OrderView is the per-order read model, denormalized for query latency.
type OrderView struct {
	OrderID       string          `json:"order_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Items         []order.Item    `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        order.Status    `json:"status"`
	OrderDate     time.Time       `json:"order_date"`
	StatusHistory []StatusChange  `json:"status_history"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MonthBucket groups order count and revenue by calendar month.
type MonthBucket struct {
	Year    int             `json:"year"`
	Month   time.Month      `json:"month"`
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

// CustomerRank is one entry of the top-customers-by-spend ranking.
type CustomerRank struct {
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	OrderCount    int             `json:"order_count"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
}

// Summary is the cross-order read model.
type Summary struct {
	TotalOrders     int                              `json:"total_orders"`
	TotalRevenue    decimal.Decimal                  `json:"total_revenue"`
	OrdersByStatus  map[order.Status]int             `json:"orders_by_status"`
	RevenueByStatus map[order.Status]decimal.Decimal `json:"revenue_by_status"`
	OrdersByMonth   []MonthBucket                    `json:"orders_by_month"`
	TopCustomers    []CustomerRank                   `json:"top_customers"`
	LastUpdated     time.Time                        `json:"last_updated"`
}

// EmptySummary is the summary of a system with no orders.
func EmptySummary() *Summary {
	return &Summary{
		TotalRevenue:    decimal.Zero,
		OrdersByStatus:  map[order.Status]int{},
		RevenueByStatus: map[order.Status]decimal.Decimal{},
		OrdersByMonth:   []MonthBucket{},
		TopCustomers:    []CustomerRank{},
		LastUpdated:     time.Now().UTC(),
	}
}

// Filter narrows an order listing. Zero values mean "no constraint".
type Filter struct {
	Status        order.Status
	CustomerEmail string
	From          time.Time
	To            time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
}

// Page is limit/offset pagination.
type Page struct {
	Limit  int
	Offset int
}

// OrderRepository is the document-store contract for per-order views.
type OrderRepository interface {
	Upsert(ctx context.Context, view *OrderView) error
	Get(ctx context.Context, orderID string) (*OrderView, error)

	// Find returns matching views sorted by order date descending, plus the
	// total match count before pagination.
	Find(ctx context.Context, f Filter, p Page) ([]*OrderView, int, error)

	// All returns every view in order-date ascending (encounter) order.
	All(ctx context.Context) ([]*OrderView, error)

	Delete(ctx context.Context, orderID string) error
	DeleteAll(ctx context.Context) error
}

// SummaryRepository stores the single cross-order summary document.
type SummaryRepository interface {
	Save(ctx context.Context, s *Summary) error

	// GetSummary returns the stored summary, or an empty one when none
	// exists.
	GetSummary(ctx context.Context) (*Summary, error)

	Clear(ctx context.Context) error
}
