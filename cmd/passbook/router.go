package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/subscription"
)

// handler serves the engine operations over HTTP. Failures are logged by
// the engine itself.
type handler struct {
	engine *passbook.Engine
}

func newRouter(a *app) http.Handler {
	h := &handler{engine: a.engine}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/groups/{groupID}/events", h.publish)
		r.Post("/users/{userID}/subscription", h.sync)
		r.Post("/sweeps", h.sweep)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type publishRequest struct {
	UserID string `json:"user_id"`
	event.Draft
}

func (h *handler) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	res, err := h.engine.PublishEvent(r.Context(), req.UserID, chi.URLParam(r, "groupID"), req.Draft)
	if err != nil {
		writeError(w, publishStatus(err), passbook.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type syncRequest struct {
	Status      string     `json:"status"`
	RenewalDate *time.Time `json:"renewal_date,omitempty"`
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	res, err := h.engine.SyncSubscription(r.Context(), chi.URLParam(r, "userID"), subscription.Normalize(req.Status), req.RenewalDate)
	switch {
	case errors.Is(err, passbook.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, passbook.Code(err), err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Sweep(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// publishStatus maps a publish failure onto an HTTP status.
func publishStatus(err error) int {
	switch {
	case errors.Is(err, passbook.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, passbook.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, passbook.ErrSubscriptionInactive):
		return http.StatusConflict
	case passbook.IsCallerError(err):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
