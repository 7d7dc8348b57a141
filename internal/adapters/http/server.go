// Package http exposes the observability endpoints a scrape-based setup
// needs: the prometheus metrics endpoint plus health and build info.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler serves /metrics from the given registry, plus /health and
// /info. The registry is the one the telemetry provider exposes while its
// prometheus exporter is active.
func NewHandler(version string, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/info", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{
			"app":     "tendril",
			"version": version,
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
