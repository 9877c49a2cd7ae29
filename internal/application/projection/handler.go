package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/domain/readmodel"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
	"github.com/Zhima-Mochi/orderstream/internal/observability/logctx"
	"github.com/shopspring/decimal"
)

const componentProjection = "order_projection"

// Handler folds committed order events into the per-order views and the
// cross-order summary. Delivery is at-least-once and no per-event dedup is
// kept; redelivery is tolerated because every mutation is an absolute upsert
// followed by a full summary recompute.
//
// The rebuild gate serializes replay against live deliveries: Rebuild holds
// the write side, Handle the read side, so live projection updates queue
// until a replay pass completes.
type Handler struct {
	gate      sync.RWMutex
	orders    readmodel.OrderRepository
	summaries readmodel.SummaryRepository
	log       observability.Logger
	replayOK  observability.BoundCounter
	replayErr observability.BoundCounter
}

func NewHandler(orders readmodel.OrderRepository, summaries readmodel.SummaryRepository, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	replays := tel.Metrics().Counter(observability.MReplayEvents)
	return &Handler{
		orders:    orders,
		summaries: summaries,
		log:       tel.Logger().With(observability.F("component", componentProjection)),
		replayOK:  replays.Bind(observability.L("outcome", "success")),
		replayErr: replays.Bind(observability.L("outcome", "error")),
	}
}

// Register subscribes the handler to every order event type.
func (h *Handler) Register(sub event.Subscriber) {
	for _, t := range []string{
		order.TypeOrderCreated,
		order.TypeOrderStatusChanged,
		order.TypeOrderCancelled,
		order.TypeOrderDeleted,
	} {
		sub.Subscribe(t, h.Handle)
	}
}

// Handle applies one live-delivered envelope. It blocks while a rebuild is in
// progress.
func (h *Handler) Handle(ctx context.Context, env event.Envelope) error {
	h.gate.RLock()
	defer h.gate.RUnlock()
	return h.apply(ctx, env)
}

// EventError pairs a failed event with its error.
type EventError struct {
	EventID string
	Err     error
}

// RebuildResult reports a (possibly partial) rebuild pass. A failed event is
// logged and skipped; the pass continues with the next event.
type RebuildResult struct {
	Processed int
	Failed    int
	Errors    []EventError
}

// FetchEvents loads the envelopes a rebuild reapplies. It is called under the
// exclusive gate.
type FetchEvents func(ctx context.Context) ([]event.Envelope, error)

// Rebuild re-derives read models under the exclusive gate. The history fetch
// runs inside the gate so the fetched snapshot, the clear, and the reapply are
// one atomic step with respect to live deliveries: an event committed before
// the fetch is in the history, and one committed after it is held at the gate
// by its bus delivery until the rebuild finishes. When clear is set, all read
// models are dropped before reapplying.
func (h *Handler) Rebuild(ctx context.Context, clear bool, fetch FetchEvents) (RebuildResult, error) {
	h.gate.Lock()
	defer h.gate.Unlock()

	envs, err := fetch(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("projection: fetch history: %w", err)
	}

	if clear {
		if err := h.orders.DeleteAll(ctx); err != nil {
			return RebuildResult{}, fmt.Errorf("projection: clear views: %w", err)
		}
		if err := h.summaries.Clear(ctx); err != nil {
			return RebuildResult{}, fmt.Errorf("projection: clear summary: %w", err)
		}
	}

	var res RebuildResult
	for _, env := range envs {
		if err := h.apply(ctx, env); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, EventError{EventID: env.EventID, Err: err})
			h.log.Error("replay_event_failed",
				observability.F("event_id", env.EventID),
				observability.F("event", env.EventType),
				observability.F("error", err),
			)
			h.replayErr.Add(1)
		} else {
			res.Processed++
			h.replayOK.Add(1)
		}
	}
	return res, nil
}

func (h *Handler) apply(ctx context.Context, env event.Envelope) error {
	evt, err := order.UnmarshalEvent(env.EventType, env.Payload)
	if err != nil {
		return err
	}

	switch e := evt.(type) {
	case order.OrderCreated:
		err = h.onCreated(ctx, e)
	case order.OrderStatusChanged:
		err = h.onStatusChanged(ctx, e)
	case order.OrderCancelled:
		err = h.onCancelled(ctx, e)
	case order.OrderDeleted:
		err = h.onDeleted(ctx, e)
	}
	if err != nil {
		return err
	}
	return h.refreshSummary(ctx)
}

func (h *Handler) onCreated(ctx context.Context, e order.OrderCreated) error {
	now := time.Now().UTC()
	return h.orders.Upsert(ctx, &readmodel.OrderView{
		OrderID:       e.AggregateID,
		CustomerName:  e.CustomerName,
		CustomerEmail: e.CustomerEmail,
		Items:         e.Items,
		TotalAmount:   e.TotalAmount,
		Status:        order.StatusPending,
		OrderDate:     e.OrderDate,
		StatusHistory: []readmodel.StatusChange{{
			Status:    order.StatusPending,
			ChangedAt: e.OccurredOn,
		}},
		UpdatedAt: now,
	})
}

func (h *Handler) onStatusChanged(ctx context.Context, e order.OrderStatusChanged) error {
	return h.transition(ctx, e.AggregateID, e.NewStatus, e.ChangedAt)
}

func (h *Handler) onCancelled(ctx context.Context, e order.OrderCancelled) error {
	return h.transition(ctx, e.AggregateID, order.StatusCancelled, e.CancelledAt)
}

// transition updates the view's current status and appends a history entry.
// A missing view is logged and skipped: the write side is authoritative and
// the read side is best-effort.
func (h *Handler) transition(ctx context.Context, orderID string, status order.Status, at time.Time) error {
	view, err := h.orders.Get(ctx, orderID)
	if errors.Is(err, readmodel.ErrNotFound) {
		h.log.Warn("view_missing_for_event",
			observability.F("order_id", orderID),
			observability.F("status", string(status)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	view.Status = status
	view.StatusHistory = append(view.StatusHistory, readmodel.StatusChange{Status: status, ChangedAt: at})
	view.UpdatedAt = time.Now().UTC()
	return h.orders.Upsert(ctx, view)
}

func (h *Handler) onDeleted(ctx context.Context, e order.OrderDeleted) error {
	err := h.orders.Delete(ctx, e.AggregateID)
	if errors.Is(err, readmodel.ErrNotFound) {
		return nil
	}
	return err
}

// refreshSummary recomputes the cross-order summary with a full scan of the
// current views. The read side optimizes for query latency, not write cost.
func (h *Handler) refreshSummary(ctx context.Context) error {
	views, err := h.orders.All(ctx)
	if err != nil {
		return err
	}

	summary := readmodel.EmptySummary()
	summary.TotalOrders = len(views)

	type monthKey struct {
		year  int
		month time.Month
	}
	months := make(map[monthKey]*readmodel.MonthBucket)
	var monthOrder []monthKey

	type customerStat struct {
		name  string
		count int
		total decimal.Decimal
	}
	customers := make(map[string]*customerStat)
	var customerOrder []string

	for _, view := range views {
		summary.TotalRevenue = summary.TotalRevenue.Add(view.TotalAmount)
		summary.OrdersByStatus[view.Status]++
		summary.RevenueByStatus[view.Status] = summary.RevenueByStatus[view.Status].Add(view.TotalAmount)

		mk := monthKey{year: view.OrderDate.Year(), month: view.OrderDate.Month()}
		bucket, ok := months[mk]
		if !ok {
			bucket = &readmodel.MonthBucket{Year: mk.year, Month: mk.month, Revenue: decimal.Zero}
			months[mk] = bucket
			monthOrder = append(monthOrder, mk)
		}
		bucket.Count++
		bucket.Revenue = bucket.Revenue.Add(view.TotalAmount)

		stat, ok := customers[view.CustomerEmail]
		if !ok {
			stat = &customerStat{name: view.CustomerName, total: decimal.Zero}
			customers[view.CustomerEmail] = stat
			customerOrder = append(customerOrder, view.CustomerEmail)
		}
		stat.count++
		stat.total = stat.total.Add(view.TotalAmount)
	}

	sort.Slice(monthOrder, func(i, j int) bool {
		if monthOrder[i].year != monthOrder[j].year {
			return monthOrder[i].year < monthOrder[j].year
		}
		return monthOrder[i].month < monthOrder[j].month
	})
	for _, mk := range monthOrder {
		summary.OrdersByMonth = append(summary.OrdersByMonth, *months[mk])
	}

	// Ties keep encounter order: the sort is stable and customerOrder lists
	// customers in first-seen order.
	ranks := make([]readmodel.CustomerRank, 0, len(customerOrder))
	for _, email := range customerOrder {
		stat := customers[email]
		ranks = append(ranks, readmodel.CustomerRank{
			CustomerEmail: email,
			CustomerName:  stat.name,
			OrderCount:    stat.count,
			TotalSpent:    stat.total,
		})
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].TotalSpent.GreaterThan(ranks[j].TotalSpent)
	})
	if len(ranks) > 10 {
		ranks = ranks[:10]
	}
	summary.TopCustomers = ranks

	summary.LastUpdated = time.Now().UTC()

	if err := h.summaries.Save(ctx, summary); err != nil {
		return err
	}
	logctx.FromOr(ctx, h.log).Debug("summary_refreshed",
		observability.F("total_orders", summary.TotalOrders),
	)
	return nil
}
