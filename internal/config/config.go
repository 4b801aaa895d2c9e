package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Scan          ScanConfig    `yaml:"scan"`
	Explore       ExploreConfig `yaml:"explore"`
	FailurePolicy string        `yaml:"failure_policy"` // "surface" or "silent"
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"` // "text" or "json"
	LogFile       string        `yaml:"log_file"`   // empty logs to stderr
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Duration        time.Duration `yaml:"duration"`
	AllowDuplicates bool          `yaml:"allow_duplicates"`
}

// ExploreConfig holds settings for the explore command.
type ExploreConfig struct {
	Listen  time.Duration `yaml:"listen"`   // how long to wait for notifications
	ReadAll bool          `yaml:"read_all"` // read every readable characteristic after discovery
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blexplorer")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Duration: 10 * time.Second,
		},
		Explore: ExploreConfig{
			Listen:  5 * time.Second,
			ReadAll: true,
		},
		FailurePolicy: "surface",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log_file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Scan.Duration <= 0 {
		return fmt.Errorf("scan.duration must be > 0, got %s", c.Scan.Duration)
	}

	if c.Explore.Listen < 0 {
		return fmt.Errorf("explore.listen must not be negative, got %s", c.Explore.Listen)
	}

	switch c.FailurePolicy {
	case "surface", "silent":
	default:
		return fmt.Errorf("failure_policy must be \"surface\" or \"silent\", got %q", c.FailurePolicy)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
