package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cilogonauth/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := store.Open(cmd.Context(), cfg.Storage.Driver, store.AdapterConfig{
				DSN:          cfg.Storage.DSN,
				MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := conn.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: applied %v, skipped %v (%s)\n",
				conn.Name(), res.Applied, res.Skipped, res.Duration)
			return nil
		},
	}
}
