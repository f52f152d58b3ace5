package main

import (
	"context"
	"fmt"
	"io"

	"dialer-platform/internal/config"
	"dialer-platform/internal/storage"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Creates the contacts, calls, retry, transcript and audit tables
for the configured STORE_DRIVER. Safe to run multiple times (idempotent).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runMigrate(ctx context.Context, out io.Writer, cfg config.Config) error {
	store, db, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(out, "schema applied (%s)\n", cfg.Store.Driver)
	return nil
}
