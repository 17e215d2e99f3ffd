package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cilogonauth/internal/http/server"
)

func linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect and remove identity-provider links",
	}
	cmd.AddCommand(linksListCmd(), linksDisconnectCmd())
	return cmd
}

func linksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <account-id>",
		Short: "List the provider identities linked to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := server.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			links, err := conn.Links().ListByAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tSUBJECT\tIDP\tCREATED")
			for _, l := range links {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.ProviderID, l.Subject, l.IdPName, l.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func linksDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <account-id> [provider]",
		Short: "Remove an account's links, for one provider or all of them",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := server.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			provider := ""
			if len(args) == 2 {
				provider = args[1]
			}
			n, err := conn.Links().Delete(cmd.Context(), args[0], provider)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d link(s)\n", n)
			return nil
		},
	}
}
