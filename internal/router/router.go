package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"truckcount-api/internal/handler"
	"truckcount-api/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	MessageHandler  *handler.MessageHandler
	ApprovalHandler *handler.ApprovalHandler
	SummaryHandler  *handler.SummaryHandler
	AdminHandler    *handler.AdminHandler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.MessageHandler != nil {
			r.Route("/message", func(r chi.Router) {
				r.Get("/", cfg.MessageHandler.Current)
				r.Post("/fetch", cfg.MessageHandler.Fetch)
				r.Post("/approve", cfg.MessageHandler.Approve)
				r.Post("/discard", cfg.MessageHandler.Discard)
			})
			r.Post("/queue/purge", cfg.MessageHandler.Purge)
		}

		if cfg.ApprovalHandler != nil {
			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", cfg.ApprovalHandler.List)
				r.Patch("/{id}", cfg.ApprovalHandler.Correct)
			})
		}

		if cfg.SummaryHandler != nil {
			r.Route("/summaries", func(r chi.Router) {
				r.Get("/", cfg.SummaryHandler.List)
				r.Post("/sync", cfg.SummaryHandler.Sync)
				r.Post("/{truck_number}/{date}/complete", cfg.SummaryHandler.Complete)
			})
		}

		if cfg.AdminHandler != nil {
			r.Get("/admin/stats", cfg.AdminHandler.GetStats)
		}
	})

	return r
}
