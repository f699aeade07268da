package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/observability"
)

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <type> [params-json]",
		Short: "Send one command to the editor and print the response",
		Example: `  uemcp exec project.info
  uemcp exec actor.spawn '{"assetPath":"/Engine/BasicShapes/Cube","name":"Cube1"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runCommand(ctx, cmd.OutOrStdout(), a.bridge, editorbridge.NewCommand(args[0], params))
			})
		},
	}
}

func parseParams(args []string) (map[string]any, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(args[0]), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}

// runCommand prints the response and returns an error for anything other
// than success:true.
func runCommand(ctx context.Context, w io.Writer, b *editorbridge.Bridge, cmd editorbridge.Command) error {
	resp, err := b.ExecuteCommand(ctx, cmd)
	if err != nil {
		return err
	}
	if err := printJSON(w, resp); err != nil {
		return err
	}
	return resp.Err()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the editor listener status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				st, err := a.bridge.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func restartCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the editor listener",
		Long: `Restart the editor listener in two phases.

Phase one sends system.restart, which stops the listener. Phase two runs
restart_command (UEMCP_RESTART_COMMAND) outside the listener and then
polls until it answers again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return runRestart(ctx, cmd.OutOrStdout(), a.bridge, force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Stop even if a command is running")
	return cmd
}

func runRestart(ctx context.Context, w io.Writer, b *editorbridge.Bridge, force bool) error {
	h, err := b.Restart(ctx, force)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "listener stopping")
	err = h.Complete(ctx)
	if errors.Is(err, editorbridge.ErrNoRestartTrigger) {
		fmt.Fprintf(w, "listener stopped: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "listener %s\n", h.State())
	return nil
}

func auditCmd() *cobra.Command {
	var (
		limit   int
		command string
		status  string
		since   time.Duration
		events  bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent commands from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if events {
					evs, err := a.events.Recent(ctx, limit)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TIME\tEVENT\tENDPOINT\tDETAIL")
					for _, ev := range evs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
							ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.Endpoint, ev.Detail)
					}
					return tw.Flush()
				}

				f := &observability.AuditFilter{
					Limit:    limit,
					OrderBy:  "timestamp",
					OrderDir: "DESC",
				}
				if command != "" {
					f.CommandType = &command
				}
				if status != "" {
					f.Status = &status
				}
				if since > 0 {
					start := time.Now().Add(-since)
					f.StartTime = &start
				}
				entries, err := a.audit.Query(ctx, f)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tCOMMAND\tSTATUS\tATTEMPTS\tDURATION\tTOOL\tERROR")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\t%s\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.CommandType, e.Status,
						e.Attempts, e.DurationMs, e.ToolName, e.ErrorMessage)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")
	cmd.Flags().StringVar(&command, "command", "", "Only this command type")
	cmd.Flags().StringVar(&status, "status", "", "Only this status (success, remote_error, timeout, offline, throttled, error)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	cmd.Flags().BoolVar(&events, "events", false, "Show listener availability events instead")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
