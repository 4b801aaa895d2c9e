package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blexplorer/internal/config"
)

func TestNamesCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"names", "00001800-0000-1000-8000-00805f9b34fb", "2a19"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"service:        Generic Access", "characteristic: Battery Level"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestNamesCommandRequiresArgs(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"names"})

	if err := root.Execute(); err == nil {
		t.Error("names without arguments should fail")
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan:\n  duration: 3s\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Scan.Duration != 3*time.Second {
		t.Errorf("Scan.Duration = %s, want 3s", cfg.Scan.Duration)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Scan.Duration != config.Default().Scan.Duration {
		t.Errorf("Scan.Duration = %s, want default", cfg.Scan.Duration)
	}
}

func TestLoadConfigUsesDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "blexplorer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("failure_policy: loud\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	a := &app{configPath: cfgPath}
	if err := a.setup(); err == nil {
		t.Error("setup() should reject an invalid failure_policy")
	}
}

func TestSetupLogLevelOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	a := &app{logLevel: "debug"}
	if err := a.setup(); err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	if got := a.log.GetLevel().String(); got != "debug" {
		t.Errorf("log level = %s, want debug", got)
	}
}

func TestRunClosesLogFileWhenCommandFails(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "blexplorer.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_file: "+logPath+"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	a := &app{}
	root := newRootCmd(a)
	var opened *os.File
	root.AddCommand(&cobra.Command{
		Use: "fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, _ = a.logFile.(*os.File)
			return errors.New("adapter unavailable")
		},
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", cfgPath, "fail"})

	if err := run(context.Background(), root, a); err == nil {
		t.Fatal("run() error = nil, want the command's error")
	}
	if opened == nil {
		t.Fatal("setup did not open the log file")
	}
	if _, err := opened.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("log file write after run error = %v, want os.ErrClosed", err)
	}
	if a.logFile != nil {
		t.Error("app still holds the log file")
	}
}

func TestPrintBanner(t *testing.T) {
	var out bytes.Buffer
	printBanner(&out, config.Default())

	got := out.String()
	if !strings.HasPrefix(got, "=== blexplorer ===") {
		t.Errorf("banner should start with the title, got:\n%s", got)
	}
	if !strings.Contains(got, "Failures: surface") {
		t.Errorf("banner missing failure policy:\n%s", got)
	}
}
