package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pgbroker/internal/store"
)

func dbMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-migrate",
		Short: "Create the broker's tables and indices if they do not already exist",
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

			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			fmt.Println("schema is up to date")
			return nil
		},
	}
}
