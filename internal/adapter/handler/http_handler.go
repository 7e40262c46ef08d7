package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/auth"
	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
	"github.com/rl1809/inventory-requests/internal/metrics"
)

type HTTPHandler struct {
	requests *service.RequestService
	items    *service.ItemService
	tokens   *auth.Tokens
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewHTTPHandler(
	requests *service.RequestService,
	items *service.ItemService,
	tokens *auth.Tokens,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		requests: requests,
		items:    items,
		tokens:   tokens,
		metrics:  m,
		logger:   logger.Named("http"),
	}
}

// Routes builds the router. metricsHandler is mounted on /metrics when set.
func (h *HTTPHandler) Routes(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe, h.identify)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	reqs := api.PathPrefix("/inventory-requests").Subrouter()
	reqs.HandleFunc("", h.CreateRequest).Methods(http.MethodPost)
	reqs.Handle("/my-requests", requireUser(h.ListMine)).Methods(http.MethodGet)
	reqs.Handle("/pending", requireAdmin(h.ListPending)).Methods(http.MethodGet)
	reqs.Handle("/{requestId}/process", requireAdmin(h.ProcessRequest)).Methods(http.MethodPost)

	items := api.PathPrefix("/inventory/{domain}/items").Subrouter()
	items.HandleFunc("", h.ListItems).Methods(http.MethodGet)
	items.Handle("", requireAdmin(h.CreateItem)).Methods(http.MethodPost)
	items.HandleFunc("/{itemId}", h.GetItem).Methods(http.MethodGet)
	items.Handle("/{itemId}", requireAdmin(h.UpdateItem)).Methods(http.MethodPut)
	items.Handle("/{itemId}", requireAdmin(h.DeleteItem)).Methods(http.MethodDelete)

	api.Handle("/inventory-movements", requireUser(h.ListMovements)).Methods(http.MethodGet)

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		body.IdempotencyKey = key
	}

	id, _ := IdentityFrom(r.Context())
	req, err := h.requests.CreateRequest(r.Context(), body.toInput(id.UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRequestResponse(*req))
}

func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	views, err := h.requests.ListPending(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestViews(views))
}

func (h *HTTPHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	views, err := h.requests.ListForRequester(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestViews(views))
}

func (h *HTTPHandler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var body ProcessBody
	if !h.decode(w, r, &body) {
		return
	}

	id, _ := IdentityFrom(r.Context())
	processed, err := h.requests.Process(r.Context(),
		mux.Vars(r)["requestId"], domain.Action(upper(body.Action)), body.RejectReason, id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRequestResponse(*processed))
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	d, err := domain.ParseInventoryDomain(mux.Vars(r)["domain"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items, err := h.items.ListItems(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ItemResponse, len(items))
	for i, item := range items {
		out[i] = toItemResponse(item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := domain.ParseInventoryDomain(vars["domain"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.items.GetItem(r.Context(), d, vars["itemId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	d, err := domain.ParseInventoryDomain(mux.Vars(r)["domain"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body ItemBody
	if !h.decode(w, r, &body) {
		return
	}

	item, err := h.items.CreateItem(r.Context(), d, body.toInput())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(*item))
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := domain.ParseInventoryDomain(vars["domain"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body ItemBody
	if !h.decode(w, r, &body) {
		return
	}

	item, err := h.items.UpdateItem(r.Context(), d, vars["itemId"], body.toInput())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, err := domain.ParseInventoryDomain(vars["domain"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.items.DeleteItem(r.Context(), d, vars["itemId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.MovementFilter
	if raw := q.Get("domain"); raw != "" {
		d, err := domain.ParseInventoryDomain(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Domain = d
	}
	filter.ItemID = q.Get("itemId")

	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		h.writeError(w, r, err)
		return
	}

	movements, err := h.items.ListMovements(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]MovementResponse, len(movements))
	for i, m := range movements {
		out[i] = toMovementResponse(m)
	}
	writeJSON(w, http.StatusOK, out)
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare "to" date covers
// the whole day.
func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", domain.ErrValidation, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := classify(err)
	message := err.Error()
	if kind.status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}

	writeJSON(w, kind.status, ErrorResponse{Error: kind.name, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// identify attaches the caller's identity when a valid bearer token is sent.
// A malformed or expired token is rejected outright rather than downgraded
// to an anonymous call.
func (h *HTTPHandler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := auth.BearerToken(header)
		if !ok {
			h.writeError(w, r, fmt.Errorf("%w: expected a bearer token", domain.ErrUnauthorized))
			return
		}
		id, err := h.tokens.Parse(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED", Message: "authentication required"})
			return
		}
		next(w, r)
	})
}

func requireAdmin(next http.HandlerFunc) http.Handler {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := IdentityFrom(r.Context()); !id.IsAdmin {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "FORBIDDEN", Message: "administrator role required"})
			return
		}
		next(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records latency per route template, so ids do not explode the
// label space.
func (h *HTTPHandler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if h.metrics != nil {
			h.metrics.HTTPDuration.
				WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		}
	})
}
