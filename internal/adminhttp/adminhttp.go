// SPDX-License-Identifier: MIT
// Package adminhttp exposes an optional read-only HTTP surface for
// inspecting router health: node lists and Prometheus metrics.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc supplies the current active/downed node id snapshot. Defined as
// a plain function type, not an interface binding the root package, so this
// package never needs to import it (which would create an import cycle).
type StatsFunc func() (active, downed []string)

// NewMux builds the admin HTTP handler: GET /status for a JSON node
// snapshot, and, when metricsEnabled is set, GET /metrics for Prometheus
// scraping.
func NewMux(stats StatsFunc, metricsEnabled bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		active, downed := stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active": active,
			"downed": downed,
		})
	})

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
