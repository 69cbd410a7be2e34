// Package api wires the dispatch engine to its HTTP surface: topic and
// subscription CRUD, publish/consume/ack/nack, the dead-letter queue,
// per-subscription metrics, OAuth2 token issuance, health probes, and the
// Prometheus scrape endpoint.
package api

import (
	"net/http"

	"github.com/oriys/pgbroker/internal/auth"
	"github.com/oriys/pgbroker/internal/authz"
	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/circuitbreaker"
	"github.com/oriys/pgbroker/internal/config"
	"github.com/oriys/pgbroker/internal/logging"
	"github.com/oriys/pgbroker/internal/observability"
	"github.com/oriys/pgbroker/internal/store"
)

// ServerConfig contains the dependencies for the HTTP server.
type ServerConfig struct {
	Store      store.BrokerStore
	Engine     *broker.Engine
	AuthCfg    *config.AuthConfig
	Breakers   *circuitbreaker.Registry
	BreakerCfg circuitbreaker.Config
}

// StartHTTPServer builds the routed mux, wraps it with the middleware chain,
// and starts serving addr in a background goroutine.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	topicHandler := &TopicHandler{Engine: cfg.Engine}
	topicHandler.registerRoutes(mux)

	subHandler := &SubscriptionHandler{Engine: cfg.Engine}
	subHandler.registerRoutes(mux)

	healthHandler := &HealthHandler{
		Store:    cfg.Store,
		Breakers: cfg.Breakers,
		Breaker:  cfg.BreakerCfg,
	}
	healthHandler.registerRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	if cfg.AuthCfg != nil && cfg.AuthCfg.Enabled {
		clientStore := auth.NewClientStore(cfg.Store)

		oauthHandler := &OAuthHandler{
			Clients:  clientStore,
			Secret:   cfg.AuthCfg.JWTSecret,
			TokenTTL: cfg.AuthCfg.TokenTTL,
		}
		oauthHandler.registerRoutes(mux)

		jwtAuth, err := auth.NewJWTAuthenticator(cfg.AuthCfg.JWTSecret, clientStore)
		if err != nil {
			logging.Op().Error("failed to create JWT authenticator", "error", err)
		} else {
			handler = authz.Middleware(authz.New())(handler)
			handler = auth.Middleware([]auth.Authenticator{jwtAuth}, cfg.AuthCfg.PublicPaths)(handler)
			logging.Op().Info("authentication enabled", "public_paths", cfg.AuthCfg.PublicPaths)
		}
	} else {
		logging.Op().Warn("authentication disabled; all routes are unauthenticated")
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
