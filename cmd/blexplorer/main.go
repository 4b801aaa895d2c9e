package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/blexplorer/internal/ble"
	"github.com/chaz8081/blexplorer/internal/config"
	"github.com/chaz8081/blexplorer/internal/explorer"
	"github.com/chaz8081/blexplorer/internal/logging"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	log     *logrus.Logger
	logFile io.Closer
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blexplorer",
		Short: "Scan for BLE peripherals and explore their GATT services",
		Long: `
blexplorer scans for Bluetooth Low Energy peripherals, connects to one,
lists its services and characteristics, reads them and listens for
notifications.
		`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/blexplorer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log_level from the config file")

	rootCmd.AddCommand(
		initScanCmd(a),
		initExploreCmd(a),
		initNamesCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := run(ctx, newRootCmd(a), a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the command tree and releases what setup opened, whether or
// not the command succeeded.
func run(ctx context.Context, root *cobra.Command, a *app) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) close() {
	if a.logFile == nil {
		return
	}
	if err := a.logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}
	a.logFile = nil
}

// setup loads the config and builds the logger.
func (a *app) setup() error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if cfg.LogFile != "" {
		f, err := logging.OpenFile(log, cfg.LogFile)
		if err != nil {
			return err
		}
		a.logFile = f
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// start wires the radio, the manager and the controller together. Callers
// must Close the returned manager.
func (a *app) start(out io.Writer) (*ble.Manager, *explorer.Controller, error) {
	policy, err := ble.ParseFailurePolicy(a.cfg.FailurePolicy)
	if err != nil {
		return nil, nil, err
	}
	ctrl := explorer.New(out, a.log)
	m := ble.NewManager(ble.NewTinygoAdapter(a.log), ctrl, ble.Options{
		ScanDuration:    a.cfg.Scan.Duration,
		AllowDuplicates: a.cfg.Scan.AllowDuplicates,
		FailurePolicy:   policy,
		Logger:          a.log,
	})
	ctrl.Bind(m)

	if !m.AdapterAvailable() {
		m.Close()
		return nil, nil, fmt.Errorf("%w: check that Bluetooth is enabled and this process may use it", ble.ErrAdapterUnavailable)
	}
	return m, ctrl, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the configuration summary.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "=== blexplorer ===")
	fmt.Fprintf(w, "  Scan:     %s (duplicates: %v)\n", cfg.Scan.Duration, cfg.Scan.AllowDuplicates)
	fmt.Fprintf(w, "  Listen:   %s (read all: %v)\n", cfg.Explore.Listen, cfg.Explore.ReadAll)
	fmt.Fprintf(w, "  Failures: %s\n", cfg.FailurePolicy)
	fmt.Fprintf(w, "  Log:      %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Fprintln(w, "==================")
}
