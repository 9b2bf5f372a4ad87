package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := newRunCmd("lightmeter")
	root.Short = "Light sensor sampling daemon"
	root.Long = `lightmeter polls an IIO light sensor, keeps a rolling history of recent
readings whose size is set live by a second analog input (the dial), and
counts dips in the light level over that history.

Running lightmeter without a subcommand is the same as "lightmeter run".
`
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.PersistentFlags().String("log-level", "", "Log level: error, warn, info, debug (overrides config)")

	root.AddCommand(
		newRunCmd("run"),
		newWatchCmd(),
		newCtlCmd(),
		newProbeCmd(),
		newEchoCmd(),
		newVersionCmd(),
	)
	return root
}
