package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blexplorer/internal/explorer"
)

func initScanCmd(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `
This command scans for advertising peripherals and prints each one once,
with its address, name and signal strength.
		`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("duration") {
				a.cfg.Scan.Duration = duration
			}
			printBanner(cmd.ErrOrStderr(), a.cfg)

			m, ctrl, err := a.start(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.StartScan(a.cfg.Scan.Duration); err != nil {
				return fmt.Errorf("start scan: %w", err)
			}
			if err := ctrl.Wait(cmd.Context(), func(s explorer.Snapshot) bool { return s.Scans > 0 }); err != nil {
				// Interrupted.
				m.StopScan()
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to scan")
	return cmd
}
