package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pgbroker/internal/auth"
)

func generateSecretKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate_secret_key",
		Short: "Print a random client secret suitable for create_client",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := auth.GenerateSecret()
			if err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			fmt.Println(secret)
			return nil
		},
	}
}
