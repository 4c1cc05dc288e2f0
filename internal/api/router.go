package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-telematics/internal/middleware"
	"github.com/technosupport/ts-telematics/internal/ratelimit"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Signals       *SignalHandler
	Rules         *RuleHandler
	Notifications *NotificationHandler
	StateFeed     *StateFeedHandler
	Auth          *AuthHandler
	Audit         *AuditHandler

	JWT    *middleware.JWTAuth
	APIKey *middleware.APIKeyAuth

	AuditLog *middleware.AuditMiddleware

	Limiter     *ratelimit.Limiter
	IngestLimit ratelimit.Limit
}

// NewRouter wires the HTTP surface. Device ingest sits behind API-key
// auth and a per-client rate limit; management routes behind JWT with an
// audit trail on every mutation.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Device surface
		r.Group(func(r chi.Router) {
			if h.Limiter != nil {
				r.Use(h.Limiter.Middleware(h.IngestLimit))
			}
			r.Use(h.APIKey.Middleware)
			r.Post("/signals", h.Signals.IngestSignal)
			r.Post("/signals/batch", h.Signals.IngestBatch)
		})

		// Management surface
		r.Group(func(r chi.Router) {
			r.Use(h.JWT.Middleware)
			if h.AuditLog != nil {
				r.Use(h.AuditLog.LogRequest)
			}

			r.Post("/auth/logout", h.Auth.Logout)

			r.Get("/vehicles/{id}/signals", h.Signals.GetSignals)
			r.Get("/vehicles/{id}/state", h.Signals.GetState)
			r.Get("/vehicles/{id}/state/live", h.StateFeed.Live)

			r.Get("/vehicles/{id}/rules", h.Rules.ListRules)
			r.Post("/vehicles/{id}/rules", h.Rules.CreateRule)
			r.Put("/rules/{id}", h.Rules.UpdateRule)
			r.Post("/rules/warmup", h.Rules.WarmupCache)

			r.Get("/notifications", h.Notifications.ListNotifications)
			r.Post("/notifications/bulk", h.Notifications.SendBulk)
			r.Post("/notifications/retry", h.Notifications.RetryPending)

			r.Get("/audit/events", h.Audit.ListEvents)
		})
	})

	return r
}
