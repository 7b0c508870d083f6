package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Analyses AnalysisService

	// Optional: bearer verification. When nil the API is unauthenticated.
	Verifier     TokenVerifier
	EnforceOwner bool

	// Optional: per-client rate limiting.
	RateLimiter *RateLimiter

	// Optional: dependency probe for /readyz.
	Ready ReadinessCheck

	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recover(logger))
	r.Use(Logging(logger))

	r.Get("/healthz", healthHandler)
	r.Head("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(services.Ready, logger))

	h := &AnalysisHandlers{Svc: services.Analyses, EnforceOwner: services.EnforceOwner, Logger: logger}
	r.Route("/api/analyses", func(r chi.Router) {
		if services.RateLimiter != nil {
			r.Use(services.RateLimiter.Middleware)
		}
		if services.Verifier != nil {
			r.Use(RequireBearer(services.Verifier, logger))
		}
		r.Use(MaxBodyBytes(services.MaxBodyBytes))

		r.Post("/", h.Submit)
		r.Get("/stats", h.Stats)
		r.Get("/{user_id}/{session_id}", h.Status)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "method not allowed"})
	})

	return r
}
