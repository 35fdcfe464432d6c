package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/entitlements/pkg/appstore"
	"github.com/dmitrymomot/entitlements/pkg/breaker"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/jwt"
	"github.com/dmitrymomot/entitlements/pkg/notification"
	"github.com/dmitrymomot/entitlements/pkg/receipt"
	"github.com/dmitrymomot/entitlements/pkg/requestid"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Service      *Service
	JWT          *jwt.Service
	Log          *slog.Logger
	HealthProbes []func(context.Context) error

	// MaxBodyBytes caps request body size; defaults to 1 MiB, which
	// comfortably fits any receipt payload.
	MaxBodyBytes int64
}

// NewRouter builds the HTTP API:
//
//	POST /v1/receipts/validate      validate a receipt (Bearer auth)
//	GET  /v1/subscriptions/me       current entitlement (Bearer auth)
//	POST /v1/webhooks/appstore      store server notifications
//	GET  /v1/metrics/subscriptions  business metrics snapshot
//	GET  /metrics                   Prometheus metrics
//	GET  /health                    liveness/readiness probe
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Service == nil {
		panic("subscription: service is required")
	}
	if deps.JWT == nil {
		panic("subscription: jwt service is required")
	}
	if deps.Log == nil {
		deps.Log = slog.New(slog.DiscardHandler)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	h := &handlers{svc: deps.Service, log: deps.Log, maxBody: deps.MaxBodyBytes}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(chimiddleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(jwt.Middleware(deps.JWT))
			r.Post("/receipts/validate", h.validateReceipt)
			r.Get("/subscriptions/me", h.currentSubscription)
		})

		r.Post("/webhooks/appstore", h.appstoreWebhook)
		r.Get("/metrics/subscriptions", h.metricsSnapshot)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", httpserver.HealthCheckHandler(context.Background(), deps.Log, deps.HealthProbes...))

	return r
}

type handlers struct {
	svc     *Service
	log     *slog.Logger
	maxBody int64
}

type validateRequest struct {
	ReceiptData string `json:"receipt_data"`
}

type subscriptionResponse struct {
	State           entitlement.State `json:"state"`
	HasActiveAccess bool              `json:"has_active_access"`
	IsStale         bool              `json:"is_stale"`
	Valid           *bool             `json:"valid,omitempty"`
	Source          string            `json:"source,omitempty"`
	Pending         bool              `json:"pending,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) validateReceipt(w http.ResponseWriter, r *http.Request) {
	userID := jwt.SubjectFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing subject claim"})
		return
	}

	var req validateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	outcome, err := h.svc.ValidateReceipt(r.Context(), userID, req.ReceiptData)
	switch {
	case err == nil:
		valid := true
		writeJSON(w, http.StatusOK, subscriptionResponse{
			State:           outcome.State,
			HasActiveAccess: outcome.State.HasActiveAccessAt(time.Now()),
			IsStale:         outcome.State.IsStaleAt(time.Now()),
			Valid:           &valid,
			Source:          string(outcome.Source),
		})

	case errors.Is(err, ErrValidationPending):
		writeJSON(w, http.StatusAccepted, subscriptionResponse{
			State:           outcome.State,
			HasActiveAccess: outcome.State.HasActiveAccessAt(time.Now()),
			IsStale:         outcome.State.IsStaleAt(time.Now()),
			Pending:         true,
		})

	case errors.Is(err, receipt.ErrEmptyReceipt):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "receipt data is required"})

	case errors.Is(err, entitlement.ErrReceiptRejected):
		// Definitive server verdict; the downgraded state is authoritative.
		valid := false
		writeJSON(w, http.StatusOK, subscriptionResponse{
			State:           outcome.State,
			HasActiveAccess: outcome.State.HasActiveAccessAt(time.Now()),
			IsStale:         outcome.State.IsStaleAt(time.Now()),
			Valid:           &valid,
			Source:          string(outcome.Source),
		})

	case isUpstreamUnavailable(err):
		// Never revoke on an outage: the caller keeps the last known state.
		h.log.WarnContext(r.Context(), "validation unavailable", "user_id", userID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "validation temporarily unavailable"})

	default:
		h.log.ErrorContext(r.Context(), "receipt validation failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *handlers) currentSubscription(w http.ResponseWriter, r *http.Request) {
	userID := jwt.SubjectFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing subject claim"})
		return
	}

	state, err := h.svc.CurrentState(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to load entitlement", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{
		State:           state,
		HasActiveAccess: state.HasActiveAccessAt(time.Now()),
		IsStale:         state.IsStaleAt(time.Now()),
	})
}

func (h *handlers) appstoreWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	headers := notification.ExtractSignatureHeaders(r.Header)
	err = h.svc.HandleNotification(r.Context(), payload, headers)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)

	case errors.Is(err, notification.ErrInvalidSignature),
		errors.Is(err, notification.ErrStaleTimestamp),
		errors.Is(err, notification.ErrInvalidCertURL):
		h.log.WarnContext(r.Context(), "webhook rejected", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "signature verification failed"})

	case errors.Is(err, notification.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed notification"})

	case errors.Is(err, notification.ErrUnknownUser):
		// Acknowledge so the store stops retrying an event we can never route.
		h.log.WarnContext(r.Context(), "webhook for unknown transaction dropped", "error", err)
		w.WriteHeader(http.StatusOK)

	default:
		// Processing failed transiently; a 5xx makes the store redeliver.
		h.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *handlers) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.MetricsSnapshot(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "metrics snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func isUpstreamUnavailable(err error) bool {
	return errors.Is(err, breaker.ErrServerUnavailable) ||
		errors.Is(err, appstore.ErrNoNetwork) ||
		errors.Is(err, appstore.ErrServerError) ||
		errors.Is(err, appstore.ErrRateLimited) ||
		errors.Is(err, appstore.ErrRequestBudget)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
