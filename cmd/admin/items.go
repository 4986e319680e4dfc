package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bankline/internal/domain/audit"
	"bankline/internal/domain/item"
	"bankline/internal/domain/linktoken"
	"bankline/internal/infrastructure/aggregator"
	"bankline/internal/infrastructure/crypto"
	"bankline/internal/infrastructure/postgres"
	"bankline/internal/infrastructure/postgres/listener"
	"bankline/internal/shared/auth"
)

func sweepLinkTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-link-tokens",
		Short: "Delete link tokens that expired or were consumed more than one TTL ago",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			broker := linktoken.NewBroker(postgres.NewLinkTokenRepository(db), db, nil, nil, nil, audit.Discard{}, linktoken.Config{
				TTL: cfg.LinkToken.TTL,
			})
			n, err := broker.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d link token(s)\n", n)
			return nil
		},
	}
}

// itemService builds an item service that writes live updates through
// Postgres NOTIFY so running API instances relay them.
func itemService(db *postgres.DB, key string) (*item.Service, error) {
	vault, err := crypto.NewVault(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token vault: %w", err)
	}
	repo := postgres.NewItemRepository(db, vault)
	return item.NewService(repo, db, listener.NewNotifyPublisher(db), audit.Discard{}), nil
}

func itemsCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List a user's items and their connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id is required")
			}

			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := itemService(db, cfg.Encryption.Key)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			items, err := svc.ListItemsByUser(ctx, userID)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "User %d has no items\n", userID)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tINSTITUTION\tSTATE\tUPDATED")
			for _, it := range items {
				name := it.InstitutionName
				if name == "" {
					name = it.InstitutionID
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.ID, name, it.State, it.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "Owner of the items")
	return cmd
}

func resetLoginCmd() *cobra.Command {
	var userID, itemID int64

	cmd := &cobra.Command{
		Use:   "reset-login",
		Short: "Force an item into the login-required state at the sandbox aggregator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 || itemID <= 0 {
				return fmt.Errorf("--user-id and --item-id are required")
			}

			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if !cfg.Aggregator.IsSandbox() {
				return fmt.Errorf("reset-login is only available in the sandbox environment (AGGREGATOR_ENV=%s)", cfg.Aggregator.Environment)
			}

			svc, err := itemService(db, cfg.Encryption.Key)
			if err != nil {
				return err
			}
			svc.SetProvider(aggregator.NewClient(cfg.Aggregator))

			ctx, cancel := commandContext(cmd)
			defer cancel()

			it, err := svc.ResetLogin(ctx, itemID, userID)
			if err != nil {
				return fmt.Errorf("reset login failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %d is now %s\n", it.ID, it.State)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "Owner of the item")
	cmd.Flags().Int64Var(&itemID, "item-id", 0, "Item to reset")
	return cmd
}

func signWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-webhook [body-file]",
		Short: "Print the " + auth.WebhookVerificationHeader + " header value for a webhook body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read body: %w", err)
			}

			verifier := auth.NewWebhookVerifier(os.Getenv("WEBHOOK_VERIFICATION_SECRET"))
			if !verifier.Enabled() {
				return fmt.Errorf("WEBHOOK_VERIFICATION_SECRET is not set")
			}

			token, err := verifier.Sign(body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
