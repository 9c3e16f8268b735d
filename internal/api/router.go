package api

import (
	"net/http"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/api/handler"
	"github.com/bcnelson/ipauth-sync/internal/api/middleware"
	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// NewRouter creates a new HTTP router with all routes configured.
// rateLimit is the number of /api/v1 requests allowed per client IP per
// minute; zero disables limiting.
func NewRouter(store storage.Storage, reconciler handler.Reconciler, apiKey string, rateLimit int) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.Logger)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if rateLimit > 0 {
			r.Use(httprate.Limit(rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(apiKey))

		statusHandler := handler.NewStatusHandler(reconciler)
		r.Get("/status", statusHandler.Get)
		r.Post("/sync", statusHandler.Sync)

		cycleHandler := handler.NewCycleHandler(store)
		r.Get("/cycles", cycleHandler.List)
		r.Get("/cycles/{id}", cycleHandler.Get)
	})

	return r
}
