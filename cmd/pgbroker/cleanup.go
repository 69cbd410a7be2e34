package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pgbroker/internal/broker"
	"github.com/oriys/pgbroker/internal/store"
)

func cleanupAckedMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup_acked_messages",
		Short: "Delete acked messages older than the configured retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pg.Close()

			engine := broker.NewEngine(pg)
			n, err := engine.SweepAckedMessages(ctx, cfg.Cleanup.AckedMessageRetention)
			if err != nil {
				return fmt.Errorf("sweep acked messages: %w", err)
			}

			fmt.Printf("deleted %d acked messages\n", n)
			return nil
		},
	}
}

func cleanupStuckMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup_stuck_messages",
		Short: "Expire message leases held past the configured stuck-lease timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pg.Close()

			engine := broker.NewEngine(pg)
			n, err := engine.SweepStuckLeases(ctx, cfg.Cleanup.StuckLeaseTimeout)
			if err != nil {
				return fmt.Errorf("sweep stuck leases: %w", err)
			}

			fmt.Printf("recovered or dead-lettered %d stuck messages\n", n)
			return nil
		},
	}
}
