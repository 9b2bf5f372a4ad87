package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lightmeter/internal/config"
	"lightmeter/internal/control"
	"lightmeter/internal/history"
)

func newCtlCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Talk to a running daemon over its control socket",
		Long: `Send a request to a running lightmeter daemon.

Examples:
  lightmeter ctl status
  lightmeter ctl capacity 64
`,
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "Control socket path")

	var asJSON bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Print the latest sample, dip count and history occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := control.Status(cmd.Context(), config.ExpandPath(socketPath))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			if snap.HasVoltage {
				fmt.Fprintf(out, "voltage:  %.4f\n", snap.Voltage)
			} else {
				fmt.Fprintln(out, "voltage:  (no samples yet)")
			}
			fmt.Fprintf(out, "dips:     %d\n", snap.Dips)
			fmt.Fprintf(out, "history:  %d/%d\n", snap.Count, snap.Capacity)
			return nil
		},
	}
	status.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot as JSON")

	capacity := &cobra.Command{
		Use:   "capacity N",
		Short: "Request a new history capacity",
		Long: `Publish N as the desired history capacity. The daemon applies it on its
next sampling iteration. A later dial movement overrides it.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseCapacity(args[0])
			if err != nil {
				return err
			}
			if err := control.SetCapacity(cmd.Context(), config.ExpandPath(socketPath), n); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.AddCommand(status, capacity)
	return cmd
}

func parseCapacity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", s, err)
	}
	if n < 1 || n > history.MaxCapacity {
		return 0, fmt.Errorf("invalid capacity %d: must be in [1, %d]", n, history.MaxCapacity)
	}
	return n, nil
}
