package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public: probes and scraping.
	r.Get("/health", g.handleHealth())
	r.Get("/metrics", g.handleMetrics().ServeHTTP)

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/entries", g.handleListEntries())
			r.Get("/entries/{id}", g.handleGetEntry())
			r.Get("/cycles/last", g.handleLastCycle())

			// Running a cycle is a write; never expose it unauthenticated.
			if g.config.Auth.IsConfigured() && g.trigger != nil {
				r.Post("/cycles", g.handleRunCycle())
			}
		})
		r.Get("/ws/events", g.handleEvents())
	})

	return r
}
