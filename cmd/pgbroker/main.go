// Command pgbroker is the operator entry point for the durable pub/sub
// broker: it runs the HTTP daemon, applies schema migrations, runs the two
// sweepers as one-shot jobs, and manages OAuth2 client credentials.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pgbroker",
		Short: "pgbroker - durable Postgres-backed pub/sub broker",
		Long:  "A message broker that uses PostgreSQL as its only durable store for topics, subscriptions, and messages.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, env vars override)")

	rootCmd.AddCommand(
		dbMigrateCmd(),
		serverCmd(),
		cleanupAckedMessagesCmd(),
		cleanupStuckMessagesCmd(),
		generateSecretKeyCmd(),
		createClientCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
