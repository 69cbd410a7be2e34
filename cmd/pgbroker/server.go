package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/pgbroker/internal/api"
	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/circuitbreaker"
	"github.com/oriys/pgbroker/internal/logging"
	"github.com/oriys/pgbroker/internal/metrics"
	"github.com/oriys/pgbroker/internal/observability"
	"github.com/oriys/pgbroker/internal/store"
)

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := cmd.Context()

			if cfg.Observability.Tracing.Enabled {
				tracingCfg := observability.Config{
					Enabled:     true,
					Exporter:    cfg.Observability.Tracing.Exporter,
					Endpoint:    cfg.Observability.Tracing.Endpoint,
					ServiceName: cfg.Observability.Tracing.ServiceName,
					SampleRate:  cfg.Observability.Tracing.SampleRate,
				}
				if err := observability.Init(ctx, tracingCfg); err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := observability.Shutdown(shutdownCtx); err != nil {
						logging.Op().Error("tracing shutdown error", "error", err)
					}
				}()
			}

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace)
			}

			pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pg.Close()

			engine := broker.NewEngine(pg)
			breakers := circuitbreaker.NewRegistry()
			breakerCfg := circuitbreaker.Config{
				ErrorPct:       50,
				WindowDuration: time.Minute,
				OpenDuration:   30 * time.Second,
				HalfOpenProbes: 2,
			}

			serverCfg := api.ServerConfig{
				Store:      pg,
				Engine:     engine,
				AuthCfg:    &cfg.Auth,
				Breakers:   breakers,
				BreakerCfg: breakerCfg,
			}

			httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, serverCfg)
			logging.Op().Info("pgbroker listening", "addr", cfg.Daemon.HTTPAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			return nil
		},
	}
}
