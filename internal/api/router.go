package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/twimagine/internal/api/middleware"
	"github.com/kiranshivaraju/twimagine/internal/api/response"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	ReadyHandler  http.HandlerFunc

	SocialCRCHandler     http.HandlerFunc
	SocialWebhookHandler http.HandlerFunc
	PaymentWebhook       http.HandlerFunc

	ListRequests http.HandlerFunc
	GetRequest   http.HandlerFunc
	FailRequest  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/readyz", orNotImplemented(deps.ReadyHandler))

	// Webhooks authenticate by signature, not API key.
	r.Get("/webhooks/social", orNotImplemented(deps.SocialCRCHandler))
	r.Post("/webhooks/social", orNotImplemented(deps.SocialWebhookHandler))
	r.Post("/webhooks/payments", orNotImplemented(deps.PaymentWebhook))

	// Operator API
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/requests", orNotImplemented(deps.ListRequests))
			r.Get("/api/v1/requests/{requestID}", orNotImplemented(deps.GetRequest))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/requests/{requestID}/fail", orNotImplemented(deps.FailRequest))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
