package web

import (
	"github.com/go-chi/chi/v5"
)

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", s.handleListTables)
			r.Route("/{table}", func(r chi.Router) {
				r.Get("/", s.handleTable)
				r.Get("/history", s.handleHistory)
				r.Get("/view", s.handleView)
				r.Get("/statistics", s.handleStatistics)
				r.Post("/import", s.handleImport)
			})
		})

		r.Get("/query", s.handleQuery)

		r.Route("/queries", func(r chi.Router) {
			r.Get("/", s.handleListQueries)
			r.Get("/{query}", s.handleRunQuery)
		})
	})
}
