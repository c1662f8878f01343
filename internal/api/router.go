// Package api assembles the HTTP surface: routes, middleware stack and
// the dependency wiring between them.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/szabogaliakos/email-insights-sub001/internal/api/middleware"
	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    *slog.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	StartJobHandler   http.HandlerFunc
	PauseJobHandler   http.HandlerFunc
	ResumeJobHandler  http.HandlerFunc
	CancelJobHandler  http.HandlerFunc
	ProcessJobHandler http.HandlerFunc
	DeleteJobHandler  http.HandlerFunc

	ContactsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJobHandler))

		r.Post("/api/v1/jobs/{jobID}/start", orNotImplemented(deps.StartJobHandler))
		r.Post("/api/v1/jobs/{jobID}/pause", orNotImplemented(deps.PauseJobHandler))
		r.Post("/api/v1/jobs/{jobID}/resume", orNotImplemented(deps.ResumeJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		r.Post("/api/v1/jobs/{jobID}/process", orNotImplemented(deps.ProcessJobHandler))

		r.Get("/api/v1/contacts", orNotImplemented(deps.ContactsHandler))
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
