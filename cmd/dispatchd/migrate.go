// README: migrate subcommand; applies the embedded goose migrations.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"courierdispatch/internal/config"
	"courierdispatch/internal/infra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		log := infra.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

		ctx := context.Background()
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		if err := infra.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info().Msg("database migrated")
		return nil
	},
}
