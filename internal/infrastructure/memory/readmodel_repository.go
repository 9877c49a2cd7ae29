package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/domain/readmodel"
)

// ReadModelRepository holds the per-order views and the summary document.
type ReadModelRepository struct {
	mu      sync.RWMutex
	views   map[string]*readmodel.OrderView
	summary *readmodel.Summary
}

func NewReadModelRepository() *ReadModelRepository {
	return &ReadModelRepository{
		views: make(map[string]*readmodel.OrderView),
	}
}

func (r *ReadModelRepository) Upsert(ctx context.Context, view *readmodel.OrderView) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.views[view.OrderID] = cloneView(view)
	return nil
}

func (r *ReadModelRepository) Get(ctx context.Context, orderID string) (*readmodel.OrderView, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	view, ok := r.views[orderID]
	if !ok {
		return nil, readmodel.ErrNotFound
	}
	return cloneView(view), nil
}

func (r *ReadModelRepository) Find(ctx context.Context, f readmodel.Filter, p readmodel.Page) ([]*readmodel.OrderView, int, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*readmodel.OrderView
	for _, view := range r.views {
		if matches(view, f) {
			matched = append(matched, view)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OrderDate.After(matched[j].OrderDate)
	})

	total := len(matched)
	if p.Offset > 0 {
		if p.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[p.Offset:]
		}
	}
	if p.Limit > 0 && len(matched) > p.Limit {
		matched = matched[:p.Limit]
	}

	out := make([]*readmodel.OrderView, 0, len(matched))
	for _, view := range matched {
		out = append(out, cloneView(view))
	}
	return out, total, nil
}

func (r *ReadModelRepository) All(ctx context.Context) ([]*readmodel.OrderView, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*readmodel.OrderView, 0, len(r.views))
	for _, view := range r.views {
		out = append(out, cloneView(view))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderDate.Before(out[j].OrderDate)
	})
	return out, nil
}

func (r *ReadModelRepository) Delete(ctx context.Context, orderID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.views[orderID]; !ok {
		return readmodel.ErrNotFound
	}
	delete(r.views, orderID)
	return nil
}

func (r *ReadModelRepository) DeleteAll(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.views = make(map[string]*readmodel.OrderView)
	return nil
}

func (r *ReadModelRepository) Save(ctx context.Context, s *readmodel.Summary) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *s
	r.summary = &copied
	return nil
}

func (r *ReadModelRepository) GetSummary(ctx context.Context) (*readmodel.Summary, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.summary == nil {
		return readmodel.EmptySummary(), nil
	}
	copied := *r.summary
	return &copied, nil
}

func (r *ReadModelRepository) Clear(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary = nil
	return nil
}

func matches(view *readmodel.OrderView, f readmodel.Filter) bool {
	if f.Status != "" && view.Status != f.Status {
		return false
	}
	if f.CustomerEmail != "" && view.CustomerEmail != f.CustomerEmail {
		return false
	}
	if !f.From.IsZero() && view.OrderDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && view.OrderDate.After(f.To) {
		return false
	}
	if f.MinAmount != nil && view.TotalAmount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && view.TotalAmount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

func cloneView(view *readmodel.OrderView) *readmodel.OrderView {
	if view == nil {
		return nil
	}
	clone := *view
	clone.Items = append([]order.Item(nil), view.Items...)
	clone.StatusHistory = append([]readmodel.StatusChange(nil), view.StatusHistory...)
	return &clone
}
