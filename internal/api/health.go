package api

import (
	"context"
	"net/http"
	"time"

	"github.com/oriys/pgbroker/internal/circuitbreaker"
	"github.com/oriys/pgbroker/internal/metrics"
	"github.com/oriys/pgbroker/internal/store"
)

const postgresBreakerName = "postgres"

// HealthHandler serves the liveness/readiness probes and the Prometheus
// scrape endpoint. Readiness is guarded by a circuit breaker so a flapping
// database connection does not hammer Postgres with a ping on every probe.
type HealthHandler struct {
	Store    store.BrokerStore
	Breakers *circuitbreaker.Registry
	Breaker  circuitbreaker.Config
}

func (h *HealthHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /liveness", h.Liveness)
	mux.HandleFunc("GET /readiness", h.Readiness)
	mux.HandleFunc("GET /metrics", h.Metrics)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	breaker := h.Breakers.Get(postgresBreakerName, h.Breaker)

	if breaker != nil && !breaker.Allow() {
		metrics.SetCircuitBreakerState(int(breaker.State()))
		writeError(w, http.StatusServiceUnavailable, "postgres circuit breaker is open")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		if breaker != nil {
			breaker.RecordFailure()
			metrics.SetCircuitBreakerState(int(breaker.State()))
		}
		writeError(w, http.StatusServiceUnavailable, "postgres unavailable: "+err.Error())
		return
	}

	if breaker != nil {
		breaker.RecordSuccess()
		metrics.SetCircuitBreakerState(int(breaker.State()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics.PrometheusHandler().ServeHTTP(w, r)
}
