package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/pgbroker/internal/circuitbreaker"
	"github.com/oriys/pgbroker/internal/store/storetest"
)

func TestLivenessAlwaysOK(t *testing.T) {
	h := &HealthHandler{Store: storetest.New(), Breakers: circuitbreaker.NewRegistry()}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadinessOKWhenStoreHealthy(t *testing.T) {
	h := &HealthHandler{
		Store:    storetest.New(),
		Breakers: circuitbreaker.NewRegistry(),
		Breaker:  circuitbreaker.Config{ErrorPct: 50, WindowDuration: time.Minute, OpenDuration: time.Second, HalfOpenProbes: 1},
	}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointIsRouted(t *testing.T) {
	h := &HealthHandler{Store: storetest.New(), Breakers: circuitbreaker.NewRegistry()}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
