package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/uemcp/connectivity"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Administer the service routes table",
		Long: `Administer the service routes table.

A running "uemcp serve" watches the table and picks up changes without a
restart. The editor and editor.status routes are rewritten from the
configured executor whenever uemcp starts.`,
	}
	cmd.AddCommand(routesListCmd(), routesGetCmd(), routesSetCmd(), routesStrategyCmd(), routesDeleteCmd())
	return cmd
}

func openAdmin() (*connectivity.Admin, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := connectivity.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return connectivity.NewAdmin(db), db.Close, nil
}

func routesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			routes, err := admin.ListRoutes(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), routes)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTRATEGY\tENDPOINT\tCONFIG\tUPDATED")
			for _, r := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ServiceName, r.Strategy, r.Endpoint, r.Config,
					time.Unix(r.UpdatedAt, 0).Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func routesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <service>",
		Short: "Print one route as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			route, err := admin.GetRoute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if route == nil {
				return fmt.Errorf("route %q not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), route)
		},
	}
}

func routesStrategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategy <service> <strategy>",
		Short: "Switch a route's strategy, keeping its endpoint and config",
		Example: `  uemcp routes strategy editor noop   # stop sending commands
  uemcp routes strategy editor http   # resume`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := admin.SetStrategy(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "route %s strategy %s\n", args[0], args[1])
			return nil
		},
	}
}

func routesSetCmd() *cobra.Command {
	var rawConfig string

	cmd := &cobra.Command{
		Use:   "set <service> <strategy> [endpoint]",
		Short: "Create or replace a route",
		Example: `  uemcp routes set editor http http://192.168.1.20:8765/ --route-config '{"method":"POST"}'
  uemcp routes set editor noop`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var endpoint string
			if len(args) == 3 {
				endpoint = args[2]
			}
			var cfg json.RawMessage
			if rawConfig != "" {
				if !json.Valid([]byte(rawConfig)) {
					return fmt.Errorf("--route-config is not valid JSON")
				}
				cfg = json.RawMessage(rawConfig)
			}

			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := admin.UpsertRoute(cmd.Context(), args[0], args[1], endpoint, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "route %s -> %s %s\n", args[0], args[1], endpoint)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawConfig, "route-config", "", "Transport config JSON")
	return cmd
}

func routesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <service>",
		Short: "Delete a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeDB, err := openAdmin()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := admin.DeleteRoute(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "route %s deleted\n", args[0])
			return nil
		},
	}
}
