package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/domain/readmodel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view(id string, status order.Status, email string, total int64, orderDate time.Time) *readmodel.OrderView {
	return &readmodel.OrderView{
		OrderID:       id,
		CustomerName:  "Customer " + id,
		CustomerEmail: email,
		TotalAmount:   decimal.NewFromInt(total),
		Status:        status,
		OrderDate:     orderDate,
	}
}

func TestUpsertAndGetClonesViews(t *testing.T) {
	ctx := context.Background()
	repo := NewReadModelRepository()
	base := time.Now().UTC()

	original := view("o-1", order.StatusPending, "a@example.com", 10, base)
	original.Items = []order.Item{{ProductID: "p-1", Quantity: 1}}
	require.NoError(t, repo.Upsert(ctx, original))

	// Mutating the stored-from pointer must not leak into the repository.
	original.Status = order.StatusCancelled
	original.Items[0].Quantity = 99

	got, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 1, got.Items[0].Quantity)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, readmodel.ErrNotFound)
}

func TestFindFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewReadModelRepository()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, view("o-1", order.StatusPending, "a@example.com", 10, base)))
	require.NoError(t, repo.Upsert(ctx, view("o-2", order.StatusConfirmed, "a@example.com", 50, base.AddDate(0, 0, 1))))
	require.NoError(t, repo.Upsert(ctx, view("o-3", order.StatusPending, "b@example.com", 30, base.AddDate(0, 0, 2))))
	require.NoError(t, repo.Upsert(ctx, view("o-4", order.StatusPending, "a@example.com", 70, base.AddDate(0, 0, 3))))

	t.Run("by status, newest first", func(t *testing.T) {
		got, total, err := repo.Find(ctx, readmodel.Filter{Status: order.StatusPending}, readmodel.Page{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, got, 3)
		assert.Equal(t, "o-4", got[0].OrderID)
		assert.Equal(t, "o-3", got[1].OrderID)
		assert.Equal(t, "o-1", got[2].OrderID)
	})

	t.Run("by email and amount range", func(t *testing.T) {
		min := decimal.NewFromInt(20)
		max := decimal.NewFromInt(60)
		got, total, err := repo.Find(ctx, readmodel.Filter{
			CustomerEmail: "a@example.com",
			MinAmount:     &min,
			MaxAmount:     &max,
		}, readmodel.Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, got, 1)
		assert.Equal(t, "o-2", got[0].OrderID)
	})

	t.Run("by date window", func(t *testing.T) {
		_, total, err := repo.Find(ctx, readmodel.Filter{
			From: base.AddDate(0, 0, 1),
			To:   base.AddDate(0, 0, 2),
		}, readmodel.Page{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("pagination keeps full total", func(t *testing.T) {
		got, total, err := repo.Find(ctx, readmodel.Filter{}, readmodel.Page{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, got, 2)
		assert.Equal(t, "o-3", got[0].OrderID)
		assert.Equal(t, "o-2", got[1].OrderID)
	})

	t.Run("offset past the end", func(t *testing.T) {
		got, total, err := repo.Find(ctx, readmodel.Filter{}, readmodel.Page{Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Empty(t, got)
	})
}

func TestAllReturnsOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewReadModelRepository()
	base := time.Now().UTC()

	require.NoError(t, repo.Upsert(ctx, view("o-2", order.StatusPending, "a@example.com", 10, base.Add(time.Hour))))
	require.NoError(t, repo.Upsert(ctx, view("o-1", order.StatusPending, "a@example.com", 10, base)))

	got, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o-1", got[0].OrderID)
	assert.Equal(t, "o-2", got[1].OrderID)
}

func TestDeleteView(t *testing.T) {
	ctx := context.Background()
	repo := NewReadModelRepository()

	require.NoError(t, repo.Upsert(ctx, view("o-1", order.StatusPending, "a@example.com", 10, time.Now())))
	require.NoError(t, repo.Delete(ctx, "o-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "o-1"), readmodel.ErrNotFound)

	_, err := repo.Get(ctx, "o-1")
	assert.ErrorIs(t, err, readmodel.ErrNotFound)
}

func TestSummaryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewReadModelRepository()

	// Empty summary before anything is saved.
	got, err := repo.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalOrders)
	assert.True(t, got.TotalRevenue.IsZero())

	saved := readmodel.EmptySummary()
	saved.TotalOrders = 3
	saved.TotalRevenue = decimal.NewFromInt(90)
	require.NoError(t, repo.Save(ctx, saved))

	got, err = repo.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalOrders)
	assert.True(t, got.TotalRevenue.Equal(decimal.NewFromInt(90)))

	require.NoError(t, repo.Clear(ctx))
	got, err = repo.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalOrders)
}
