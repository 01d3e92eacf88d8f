package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the case library and run log tables",
	Long:  "Applies the idempotent schema for the configured store, including the pgvector extension on Postgres.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.CountOpinions(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("migration complete",
			zap.String("driver", cfg.Store.Driver),
			zap.String("table", cfg.Store.Table),
			zap.Int("opinions", n),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s, %d opinions stored).\n", cfg.Store.Driver, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
