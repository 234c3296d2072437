// Package api exposes reconciliation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"

	"github.com/batchplant/platform/pkg/batches"
	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/batchplant/platform/pkg/linkage"
	"github.com/batchplant/platform/pkg/observability/metrics"
	"github.com/batchplant/platform/pkg/orders"
	"github.com/batchplant/platform/pkg/pipeline"
	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/gorilla/mux"
)

const maxListLimit = 500

type Reconciler interface {
	ReconcileBatch(ctx context.Context, batchID string) (reconcile.LinkDecision, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, batch reconcile.BatchRecord) (reconcile.LinkDecision, []reconcile.ScoredCandidate, error)
	DateOf(t time.Time) civil.Date
}

type LinkReader interface {
	Get(ctx context.Context, batchID string) (*linkage.BatchLink, error)
	ListByState(ctx context.Context, state reconcile.LinkState, limit int) ([]linkage.BatchLink, error)
	FindByOrder(ctx context.Context, orderID string) ([]linkage.BatchLink, error)
}

type BatchRecorder interface {
	Record(ctx context.Context, batch *batches.Batch) error
}

type OrderWriter interface {
	Create(ctx context.Context, order *orders.Order) error
}

// ReadinessCheck reports an error while a dependency is unavailable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	runner    Reconciler
	evaluator Evaluator
	links     LinkReader
	ready     ReadinessCheck
	maxBody   int64
	recorder  BatchRecorder
	orders    OrderWriter
}

type HandlerOption func(*Handler)

func WithReadinessCheck(check ReadinessCheck) HandlerOption {
	return func(h *Handler) { h.ready = check }
}

// WithIntake enables the batch and order entry endpoints.
func WithIntake(recorder BatchRecorder, store OrderWriter) HandlerOption {
	return func(h *Handler) {
		h.recorder = recorder
		h.orders = store
	}
}

func WithMaxBody(n int64) HandlerOption {
	return func(h *Handler) { h.maxBody = n }
}

func NewHandler(runner Reconciler, evaluator Evaluator, links LinkReader, opts ...HandlerOption) *Handler {
	h := &Handler{runner: runner, evaluator: evaluator, links: links, maxBody: 1 << 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the service's routes with logging and panic recovery.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(Recovery, Logging)

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.readiness).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(BodyLimit(h.maxBody))
	// preview is registered first so it is not taken as a batch ID
	v1.HandleFunc("/reconcile/preview", h.preview).Methods(http.MethodPost)
	v1.HandleFunc("/reconcile/{batchID}", h.reconcile).Methods(http.MethodPost)
	v1.HandleFunc("/links", h.listLinks).Methods(http.MethodGet)
	v1.HandleFunc("/links/{batchID}", h.getLink).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{orderID}/links", h.orderLinks).Methods(http.MethodGet)
	if h.recorder != nil {
		v1.HandleFunc("/batches", h.recordBatch).Methods(http.MethodPost)
	}
	if h.orders != nil {
		v1.HandleFunc("/orders", h.createOrder).Methods(http.MethodPost)
	}
	return router
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logger.Log.WithError(err).Warn("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	decision, err := h.runner.ReconcileBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	decision, ranked, err := h.evaluator.Evaluate(r.Context(), req.ToRecord())
	if err != nil {
		writeError(w, err)
		return
	}
	if ranked == nil {
		ranked = []reconcile.ScoredCandidate{}
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Decision:   decision,
		Date:       h.evaluator.DateOf(req.Timestamp).String(),
		Candidates: ranked,
	})
}

func (h *Handler) getLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Get(r.Context(), mux.Vars(r)["batchID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// listLinks serves the review queue; state defaults to PENDING_REVIEW.
func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	state := reconcile.StatePendingReview
	if s := r.URL.Query().Get("state"); s != "" {
		state = reconcile.LinkState(s)
		if !state.Valid() {
			http.Error(w, "unknown state "+s, http.StatusBadRequest)
			return
		}
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	links, err := h.links.ListByState(r.Context(), state, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if links == nil {
		links = []linkage.BatchLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) orderLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.FindByOrder(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeError(w, err)
		return
	}
	if links == nil {
		links = []linkage.BatchLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) recordBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid batch payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch := req.ToModel()
	if err := h.recorder.Record(r.Context(), batch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid order payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := req.ToModel()
	if err := h.orders.Create(r.Context(), order); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

// statusFor maps engine and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case reconcile.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, batches.ErrNotFound), errors.Is(err, linkage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrLockBusy), errors.Is(err, linkage.ErrOrderAlreadyLinked),
		errors.Is(err, batches.ErrAlreadyExists), errors.Is(err, orders.ErrAlreadyExists):
		return http.StatusConflict
	case reconcile.IsRetrievalError(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}
