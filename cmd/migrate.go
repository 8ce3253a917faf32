package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the record store tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		be, err := initBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer be.Close() //nolint:errcheck

		if err := be.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("store migrated", zap.String("driver", be.Name()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
