package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thaeryn/httpgateway/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Every method is routed so non-POST attempts get the code-4 denial.
		r.HandleFunc("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/server", s.handleServer)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/codes", s.handleIssueCode)
				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	// Token travels in the path: browsers cannot set headers on an upgrade.
	// Without a token the upgrade still happens and is denied like a bad one.
	r.Get("/ws/{token}", s.handleWebSocket)
	r.Get("/ws/", s.handleWebSocket)
	r.Get("/ws", s.handleWebSocket)

	if s.metrics != nil && s.metricCfg.Enabled {
		r.Handle(s.metricCfg.Path, s.metrics.Handler())
	}

	r.Handle("/*", webui.Handler(s.cfg.StaticDir))

	return r
}
