package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apporder "github.com/Zhima-Mochi/orderstream/internal/application/order"
	"github.com/Zhima-Mochi/orderstream/internal/application/projection"
	"github.com/Zhima-Mochi/orderstream/internal/application/replay"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/eventbus"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/id"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	server *httptest.Server
	bus    *eventbus.Bus
}

// sync forces one bus poll cycle so projections catch up with the write side.
func (a *testApp) sync(t *testing.T) {
	t.Helper()
	_, err := a.bus.ProcessPending(context.Background())
	require.NoError(t, err)
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	store := memory.NewEventStore()
	feed := memory.NewFeed()
	repo := memory.NewReadModelRepository()

	bus := eventbus.New(feed, time.Second, 256, nil)
	handler := projection.NewHandler(repo, repo, nil)
	handler.Register(bus)

	commands := apporder.NewCommandService(store, bus, id.NewUUIDGenerator(), nil)
	queries := apporder.NewQueryService(repo, repo, nil)
	replaySvc := replay.NewService(store, handler, nil)

	server := httptest.NewServer(NewHandler(commands, queries, replaySvc, nil).Router())
	t.Cleanup(server.Close)
	return &testApp{server: server, bus: bus}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func createOrderBody(email string) map[string]any {
	return map[string]any{
		"customer_name":  "Alice Jones",
		"customer_email": email,
		"items": []map[string]any{
			{"product_id": "p-1", "product_name": "Widget", "quantity": 2, "price": "10"},
			{"product_id": "p-2", "product_name": "Gadget", "quantity": 1, "price": "5"},
		},
	}
}

func (a *testApp) createOrder(t *testing.T, email string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/orders", createOrderBody(email))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID, _ := body["order_id"].(string)
	require.NotEmpty(t, orderID)
	a.sync(t)
	return orderID
}

func TestCreateAndGetOrder(t *testing.T) {
	app := newTestApp(t)
	orderID := app.createOrder(t, "alice@example.com")

	resp, body := app.do(t, http.MethodGet, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "25", body["total_amount"])
	assert.Equal(t, "alice@example.com", body["customer_email"])
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	app := newTestApp(t)

	bad := createOrderBody("not-an-email")
	resp, _ := app.do(t, http.MethodPost, "/orders", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = app.do(t, http.MethodPost, "/orders", map[string]any{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMissingOrderIs404(t *testing.T) {
	app := newTestApp(t)
	resp, _ := app.do(t, http.MethodGet, "/orders/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	orderID := app.createOrder(t, "alice@example.com")

	resp, _ := app.do(t, http.MethodPut, "/orders/"+orderID+"/status", map[string]any{"status": "confirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	app.sync(t)

	resp, body := app.do(t, http.MethodGet, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "confirmed", body["status"])

	// Skipping the machine is a semantic violation, not a bad request.
	resp, _ = app.do(t, http.MethodPut, "/orders/"+orderID+"/status", map[string]any{"status": "delivered"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = app.do(t, http.MethodPut, "/orders/"+orderID+"/status", map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndDeleteOverHTTP(t *testing.T) {
	app := newTestApp(t)
	orderID := app.createOrder(t, "alice@example.com")

	resp, _ := app.do(t, http.MethodPut, "/orders/"+orderID+"/cancel", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	app.sync(t)

	resp, _ = app.do(t, http.MethodDelete, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	app.sync(t)

	resp, _ = app.do(t, http.MethodGet, "/orders/"+orderID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Further commands against the deleted order are rejected.
	resp, _ = app.do(t, http.MethodPut, "/orders/"+orderID+"/cancel", map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListOrdersWithFilters(t *testing.T) {
	app := newTestApp(t)
	app.createOrder(t, "alice@example.com")
	app.createOrder(t, "bob@example.com")
	app.createOrder(t, "alice@example.com")

	resp, body := app.do(t, http.MethodGet, "/orders?customer_email=alice@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])

	resp, body = app.do(t, http.MethodGet, "/orders?limit=1&offset=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)

	resp, _ = app.do(t, http.MethodGet, "/orders?status=teleported", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryAndTopCustomers(t *testing.T) {
	app := newTestApp(t)
	app.createOrder(t, "alice@example.com")
	app.createOrder(t, "alice@example.com")
	app.createOrder(t, "bob@example.com")

	resp, body := app.do(t, http.MethodGet, "/orders/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total_orders"])
	assert.Equal(t, "75", body["total_revenue"])

	resp, body = app.do(t, http.MethodGet, "/orders/top-customers?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ranks, _ := body["top_customers"].([]any)
	require.Len(t, ranks, 1)
	first, _ := ranks[0].(map[string]any)
	assert.Equal(t, "alice@example.com", first["customer_email"])
}

func TestReplayEndpointRebuildsReadModels(t *testing.T) {
	app := newTestApp(t)
	orderID := app.createOrder(t, "alice@example.com")

	resp, body := app.do(t, http.MethodPost, "/admin/replay", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["processed"])
	assert.Equal(t, float64(0), body["failed"])

	resp, _ = app.do(t, http.MethodGet, "/orders/"+orderID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshotEndpoint(t *testing.T) {
	app := newTestApp(t)
	orderID := app.createOrder(t, "alice@example.com")

	resp, body := app.do(t, http.MethodPost, fmt.Sprintf("/admin/snapshots/%s", orderID), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, orderID, body["order_id"])
	assert.Equal(t, float64(1), body["version"])

	resp, _ = app.do(t, http.MethodPost, "/admin/snapshots/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndRequestIDHeader(t *testing.T) {
	app := newTestApp(t)
	resp, _ := app.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
}
