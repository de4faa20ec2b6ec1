package admin

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sipico/sqld-gateway/internal/metrics"
	"github.com/sipico/sqld-gateway/internal/middleware"
)

// NewRouter creates the operator router
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodySize))
	r.Use(middleware.HTTPLogging(h.logger, nil))

	// Public endpoints (no auth)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	// Operator API (token auth)
	r.Route("/api", func(r chi.Router) {
		r.Use(h.TokenAuthMiddleware)

		r.Post("/loglevel", h.HandleSetLogLevel)
		r.Get("/tokens/options", h.HandleTokenOptions)

		r.Get("/servers", h.HandleListServers)
		r.Post("/servers", h.HandleCreateServer)
		r.Post("/servers/test", h.HandleTestConnection)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetServer)
			r.Delete("/", h.HandleDeleteServer)
			r.Get("/info", h.HandleServerInfo)
			r.Get("/version", h.HandleVersion)
			r.Get("/namespaces", h.HandleListNamespaces)
			r.Post("/namespaces", h.HandleCreateNamespace)
			r.Post("/namespaces/{ns}/query", h.HandleQuery)
			r.Post("/namespaces/{ns}/tokens", h.HandleIssueToken)
		})
	})

	// Console (session cookie auth)
	r.Route("/console", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)
		r.Group(func(r chi.Router) {
			r.Use(h.SessionMiddleware)
			r.Get("/{serverId}/{namespace}", h.HandleConsolePage)
			r.Get("/{serverId}/{namespace}/ws", h.HandleConsoleSocket)
		})
	})

	return r
}
