package order

import (
	"context"
	"errors"

	domain "github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/domain/readmodel"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
)

const componentQueryService = "order_query_service"

const (
	useCaseGetOrder     = "order.get"
	useCaseListOrders   = "order.list"
	useCaseSummary      = "order.summary"
	useCaseTopCustomers = "order.top_customers"

	defaultPageLimit = 10
	maxTopCustomers  = 10
)

// QueryService is the read side. It serves views maintained by the projection
// handler; results are eventually consistent with the write side.
type QueryService struct {
	orders    readmodel.OrderRepository
	summaries readmodel.SummaryRepository
	in        instruments
}

func NewQueryService(orders readmodel.OrderRepository, summaries readmodel.SummaryRepository, tel observability.Observability) *QueryService {
	return &QueryService{
		orders:    orders,
		summaries: summaries,
		in:        newInstruments(tel, componentQueryService),
	}
}

func (s *QueryService) GetOrder(ctx context.Context, orderID string) (view *readmodel.OrderView, err error) {
	ctx, _, done := s.in.observe(ctx, useCaseGetOrder)
	defer func() { done(err) }()

	view, err = s.orders.Get(ctx, orderID)
	if errors.Is(err, readmodel.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return view, err
}

// OrderList is one page of an order listing plus the total match count.
type OrderList struct {
	Items  []*readmodel.OrderView
	Total  int
	Limit  int
	Offset int
}

func (s *QueryService) ListOrders(ctx context.Context, f readmodel.Filter, p readmodel.Page) (list *OrderList, err error) {
	ctx, _, done := s.in.observe(ctx, useCaseListOrders)
	defer func() { done(err) }()

	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	items, total, err := s.orders.Find(ctx, f, p)
	if err != nil {
		return nil, err
	}
	return &OrderList{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

func (s *QueryService) GetSummary(ctx context.Context) (summary *readmodel.Summary, err error) {
	ctx, _, done := s.in.observe(ctx, useCaseSummary)
	defer func() { done(err) }()

	return s.summaries.GetSummary(ctx)
}

func (s *QueryService) TopCustomers(ctx context.Context, limit int) (ranks []readmodel.CustomerRank, err error) {
	ctx, _, done := s.in.observe(ctx, useCaseTopCustomers)
	defer func() { done(err) }()

	if limit <= 0 || limit > maxTopCustomers {
		limit = maxTopCustomers
	}

	summary, err := s.summaries.GetSummary(ctx)
	if err != nil {
		return nil, err
	}
	if len(summary.TopCustomers) > limit {
		return summary.TopCustomers[:limit], nil
	}
	return summary.TopCustomers, nil
}
