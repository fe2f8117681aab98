// Package diag exposes engine diagnostics over HTTP.
package diag

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatsSource reports the current engine and cache statistics.
type StatsSource interface {
	Stats(ctx context.Context) (any, error)
}

// StatsFunc adapts a function to the StatsSource interface.
type StatsFunc func(ctx context.Context) (any, error)

// Stats implements StatsSource.
func (f StatsFunc) Stats(ctx context.Context) (any, error) {
	return f(ctx)
}

// Handler serves GET /stats and GET /healthz.
func Handler(src StatsSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := src.Stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// Marshal before writing so a failure yields a clean 500
		// instead of a truncated body.
		body, err := json.Marshal(stats)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
