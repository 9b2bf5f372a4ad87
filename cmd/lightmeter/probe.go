package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lightmeter/internal/sensor"
)

func newProbeCmd() *cobra.Command {
	var (
		voltagePath string
		dialPath    string
		fullScale   uint64
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Read both analog inputs once and print them",
		Long: `Read the light sensor and the dial once. Useful to check wiring and
permissions before starting the daemon.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			voltageCh, err := sensor.OpenChannel(voltagePath)
			if err != nil {
				return err
			}
			defer voltageCh.Close()

			raw, v, err := readLight(ctx, voltageCh, fullScale)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "light: raw=%d voltage=%.4f (%s)\n", raw, v, voltagePath)

			if dialPath == "" {
				return nil
			}
			dialCh, err := sensor.OpenChannel(dialPath)
			if err != nil {
				return err
			}
			defer dialCh.Close()

			dial, err := dialCh.ReadDial(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "dial:  raw=%d (%s)\n", dial, dialPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&voltagePath, "voltage-path", sensor.DefaultVoltagePath, "sysfs attribute of the light sensor")
	cmd.Flags().StringVar(&dialPath, "dial-path", sensor.DefaultDialPath, "sysfs attribute of the dial (empty to skip)")
	cmd.Flags().Uint64Var(&fullScale, "full-scale", sensor.DefaultFullScale, "Raw value of a full-scale reading")
	return cmd
}

// readLight takes one raw sample and normalises that same sample, so the
// printed pair always agrees.
func readLight(ctx context.Context, src sensor.RawReader, fullScale uint64) (uint64, float64, error) {
	raw, err := src.ReadRaw(ctx)
	if err != nil {
		return 0, 0, err
	}
	v, err := sensor.Voltage{FullScale: fullScale}.Normalise(raw)
	if err != nil {
		return 0, 0, err
	}
	return raw, v, nil
}
