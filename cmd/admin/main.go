package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bankline/internal/infrastructure/postgres"
	"bankline/internal/shared/config"
)

var timeout time.Duration

func main() {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Bankline admin CLI - management commands for the Bankline API",
		Example: `  # Apply pending schema migrations
  admin migrate

  # Remove expired and consumed link tokens
  admin sweep-link-tokens

  # List a user's items
  admin items --user-id=1

  # Force an item into login-required state (sandbox only)
  admin reset-login --user-id=1 --item-id=42

  # Sign a webhook body for local testing
  admin sign-webhook payload.json`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for the operation (e.g., 30s, 5m)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepLinkTokensCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(resetLoginCmd())
	rootCmd.AddCommand(signWebhookCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect loads configuration and opens the database.
func connect() (*config.Config, *postgres.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("Connected to database")
	return cfg, db, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			applied, err := db.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", v)
			}
			return nil
		},
	}
}
