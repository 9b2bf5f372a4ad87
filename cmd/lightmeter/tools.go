package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"lightmeter/internal/echo"
	"lightmeter/internal/logging"
)

// toolLogger builds the stderr logger of the auxiliary subcommands, honoring
// the persistent --log-level flag.
func toolLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr == "" {
		levelStr = string(logging.LevelInfo)
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.New(logging.Options{Level: level, Writer: cmd.ErrOrStderr()})
	return logger, err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lightmeter v%s\n", version)
		},
	}
}

func newEchoCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run only the UDP echo responder",
		Long: `Answer every UDP datagram with its payload. An empty payload (after
trimming NUL and newline characters) is answered with the last non-empty one.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := toolLogger(cmd)
			if err != nil {
				return err
			}
			return echo.NewResponder(listen, logger).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", ":1234", "UDP address to listen on")
	return cmd
}
