package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	apporder "github.com/Zhima-Mochi/orderstream/internal/application/order"
	"github.com/Zhima-Mochi/orderstream/internal/application/projection"
	"github.com/Zhima-Mochi/orderstream/internal/application/replay"
	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	domainorder "github.com/Zhima-Mochi/orderstream/internal/domain/order"
	"github.com/Zhima-Mochi/orderstream/internal/domain/readmodel"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
	"github.com/Zhima-Mochi/orderstream/internal/observability/logctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	commands *apporder.CommandService
	queries  *apporder.QueryService
	replay   *replay.Service
	log      observability.Logger
	tel      observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

func NewHandler(commands *apporder.CommandService, queries *apporder.QueryService, replaySvc *replay.Service,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		commands: commands,
		queries:  queries,
		replay:   replaySvc,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/orders", h.handleCreateOrder)
	h.muxHandle(mux, http.MethodGet, "/orders", h.handleListOrders)
	h.muxHandle(mux, http.MethodGet, "/orders/summary", h.handleSummary)
	h.muxHandle(mux, http.MethodGet, "/orders/top-customers", h.handleTopCustomers)
	h.muxHandle(mux, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.muxHandle(mux, http.MethodPut, "/orders/{id}/status", h.handleChangeStatus)
	h.muxHandle(mux, http.MethodPut, "/orders/{id}/cancel", h.handleCancelOrder)
	h.muxHandle(mux, http.MethodDelete, "/orders/{id}", h.handleDeleteOrder)
	h.muxHandle(mux, http.MethodPost, "/admin/replay", h.handleReplay)
	h.muxHandle(mux, http.MethodPost, "/admin/snapshots/{id}", h.handleCreateSnapshot)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(method+" "+route, func(w http.ResponseWriter, r *http.Request) {
		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), method+" "+route)
		r = r.WithContext(ctx)

		wrapped := h.withTrace(
			ObservabilityMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
				h.tel,
			)(
				h.withAccessLog(http.HandlerFunc(handler)),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

type orderItemRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	Items         []orderItemRequest `json:"items"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]domainorder.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domainorder.ItemInput{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}

	orderID, err := h.commands.CreateOrder(r.Context(), apporder.CreateOrderInput{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{OrderID: orderID})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type orderListResponse struct {
	Items  []*readmodel.OrderView `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f, p, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	list, err := h.queries.ListOrders(r.Context(), f, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderListResponse{
		Items:  list.Items,
		Total:  list.Total,
		Limit:  list.Limit,
		Offset: list.Offset,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queries.GetSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleTopCustomers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		limit = n
	}

	ranks, err := h.queries.TopCustomers(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"top_customers": ranks})
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := domainorder.ParseStatus(req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.commands.ChangeStatus(r.Context(), r.PathValue("id"), status); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.commands.Cancel(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domainorder.StatusCancelled)})
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.commands.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replayRequest struct {
	OrderID string `json:"order_id,omitempty"`
	From    string `json:"from,omitempty"`
}

type replayEventError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

type replayResponse struct {
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Errors    []replayEventError `json:"errors,omitempty"`
}

// handleReplay rebuilds read models. With no body fields it drops and
// re-derives everything; with "from" it reapplies recent events in place;
// with "order_id" it repairs a single order's view.
func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var (
		res projection.RebuildResult
		err error
	)
	switch {
	case req.OrderID != "":
		res, err = h.replay.ReplayForAggregate(r.Context(), req.OrderID)
	case req.From != "":
		var from time.Time
		from, err = time.Parse(time.RFC3339, req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("from must be RFC3339"))
			return
		}
		res, err = h.replay.ReplayFromTime(r.Context(), from)
	default:
		res, err = h.replay.ReplayAll(r.Context())
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := replayResponse{Processed: res.Processed, Failed: res.Failed}
	for _, ee := range res.Errors {
		resp.Errors = append(resp.Errors, replayEventError{EventID: ee.EventID, Error: ee.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	version, err := h.replay.CreateSnapshot(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": orderID,
		"version":  version,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("orderstream.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func parseListQuery(r *http.Request) (readmodel.Filter, readmodel.Page, error) {
	q := r.URL.Query()

	var f readmodel.Filter
	if raw := q.Get("status"); raw != "" {
		status, err := domainorder.ParseStatus(raw)
		if err != nil {
			return f, readmodel.Page{}, err
		}
		f.Status = status
	}
	f.CustomerEmail = q.Get("customer_email")

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, readmodel.Page{}, errors.New("from must be RFC3339")
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, readmodel.Page{}, errors.New("to must be RFC3339")
		}
		f.To = t
	}
	if raw := q.Get("min_amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return f, readmodel.Page{}, errors.New("min_amount must be a decimal")
		}
		f.MinAmount = &d
	}
	if raw := q.Get("max_amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return f, readmodel.Page{}, errors.New("max_amount must be a decimal")
		}
		f.MaxAmount = &d
	}

	var p readmodel.Page
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, p, errors.New("limit must be an integer")
		}
		p.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, p, errors.New("offset must be an integer")
		}
		p.Offset = n
	}
	return f, p, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainorder.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainorder.ErrAlreadyExists),
		errors.Is(err, event.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, apporder.ErrValidation),
		errors.Is(err, domainorder.ErrUnknownStatus),
		errors.Is(err, domainorder.ErrEmptyOrder):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domainorder.ErrInvalidTransition),
		errors.Is(err, domainorder.ErrInvalidState),
		errors.Is(err, domainorder.ErrDeleted),
		errors.Is(err, domainorder.ErrAlreadyDeleted):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, event.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, event.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
