package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oriys/pgbroker/internal/auth"
	"github.com/oriys/pgbroker/internal/domain"
	"github.com/oriys/pgbroker/internal/store"
)

func createClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create_client <name> <scopes> <is_active>",
		Short: "Register an OAuth2 client-credentials principal",
		Long:  "Creates a client with the given name, space-separated scope list, and active flag, printing the generated secret exactly once.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, scopes, isActiveArg := args[0], args[1], args[2]

			isActive, err := strconv.ParseBool(isActiveArg)
			if err != nil {
				return fmt.Errorf("is_active must be true or false: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			secret, err := auth.GenerateSecret()
			if err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}

			hash, err := auth.HashSecret(secret, cfg.Auth.BcryptCost)
			if err != nil {
				return fmt.Errorf("hash secret: %w", err)
			}

			ctx := cmd.Context()
			pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pg.Close()

			client := &domain.Client{
				ID:           uuid.NewString(),
				Name:         name,
				Scopes:       scopes,
				IsActive:     isActive,
				TokenVersion: 1,
				SecretHash:   hash,
			}
			if err := pg.CreateClient(ctx, client); err != nil {
				return fmt.Errorf("create client: %w", err)
			}

			fmt.Printf("client_id: %s\n", client.Name)
			fmt.Printf("client_secret: %s\n", secret)
			fmt.Println("store the secret now; it cannot be recovered later.")
			return nil
		},
	}
}
