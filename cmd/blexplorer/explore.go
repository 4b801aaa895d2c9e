package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/blexplorer/internal/ble"
	"github.com/chaz8081/blexplorer/internal/explorer"
)

// stepTimeout bounds each wait for the peripheral: connect, discovery, reads.
const stepTimeout = 30 * time.Second

func initExploreCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		listen   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "explore <address|name>",
		Short: "Connect to a peripheral and explore its GATT services",
		Long: `
This command scans until the target peripheral is seen, connects to it,
discovers its services, reads every readable characteristic and prints
notifications until the listen window closes.
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("duration") {
				a.cfg.Scan.Duration = duration
			}
			if cmd.Flags().Changed("listen") {
				a.cfg.Explore.Listen = listen
			}
			printBanner(cmd.ErrOrStderr(), a.cfg)

			m, ctrl, err := a.start(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer m.Close()

			return explore(cmd.Context(), a, m, ctrl, args[0])
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to scan for the target")
	cmd.Flags().DurationVar(&listen, "listen", 5*time.Second, "how long to print notifications after reading")
	return cmd
}

func explore(ctx context.Context, a *app, m *ble.Manager, ctrl *explorer.Controller, target string) error {
	log := a.log.WithField("target", target)

	if err := m.StartScan(a.cfg.Scan.Duration); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	found := func(s explorer.Snapshot) bool {
		_, ok := ctrl.Find(target)
		return ok || s.Scans > 0
	}
	if err := ctrl.Wait(ctx, found); err != nil {
		return err
	}
	idx, ok := ctrl.Find(target)
	if !ok {
		return fmt.Errorf("%s not found within %s", target, a.cfg.Scan.Duration)
	}

	before := ctrl.Snapshot()
	if err := ctrl.Select(idx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	log.Info("[BLE] waiting for services")
	err := waitStep(ctx, ctrl, func(s explorer.Snapshot) bool {
		return s.Discovered || s.Disconnects > before.Disconnects
	})
	if err != nil {
		return fmt.Errorf("waiting for services: %w", err)
	}
	if !ctrl.Snapshot().Discovered {
		return errors.New("peripheral disconnected before its services were discovered")
	}

	if a.cfg.Explore.ReadAll {
		if err := readAll(ctx, ctrl, log); err != nil {
			return err
		}
	}

	if a.cfg.Explore.Listen > 0 {
		log.WithField("listen", a.cfg.Explore.Listen).Info("[BLE] listening for notifications")
		listenCtx, cancel := context.WithTimeout(ctx, a.cfg.Explore.Listen)
		drops := ctrl.Snapshot().Disconnects
		_ = ctrl.Wait(listenCtx, func(s explorer.Snapshot) bool { return s.Disconnects > drops })
		cancel()
	}

	m.Disconnect()
	return nil
}

// readAll reads every readable row and waits for the results.
func readAll(ctx context.Context, ctrl *explorer.Controller, log logrus.FieldLogger) error {
	before := ctrl.Snapshot()
	reads := 0
	for i, r := range ctrl.Rows() {
		if !r.Characteristic.Capabilities.Has(ble.CapRead) {
			continue
		}
		if err := ctrl.ReadRow(i); err != nil {
			log.WithError(err).WithField("uuid", r.Characteristic.UUID).Warn("[BLE] read")
			continue
		}
		reads++
	}
	if reads == 0 {
		return nil
	}
	err := waitStep(ctx, ctrl, func(s explorer.Snapshot) bool {
		done := (s.Received - before.Received) + (s.Failures - before.Failures)
		return done >= reads || s.Disconnects > before.Disconnects
	})
	if errors.Is(err, context.DeadlineExceeded) {
		// Failed reads are not reported under the silent failure policy.
		log.Warn("[BLE] some reads did not complete")
		return nil
	}
	return err
}

func waitStep(ctx context.Context, ctrl *explorer.Controller, cond func(explorer.Snapshot) bool) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return ctrl.Wait(ctx, cond)
}
