package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/beacon-scanner/internal/region"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	Adapter     string         `yaml:"adapter"` // BlueZ adapter id, e.g. "hci0"
	Scan        ScanConfig     `yaml:"scan"`
	Ranging     []RegionConfig `yaml:"ranging"`
	Monitoring  []RegionConfig `yaml:"monitoring"`
	EventLog    string         `yaml:"event_log"`    // CBOR event log path; empty disables
	EventBuffer int            `yaml:"event_buffer"` // per-feed stream buffer
}

// ScanConfig holds detection engine settings.
type ScanConfig struct {
	RangingPeriod time.Duration `yaml:"ranging_period"`
	ExitTimeout   time.Duration `yaml:"exit_timeout"`
	RetryMax      int           `yaml:"retry_max"` // max scan restart backoff in seconds
}

// RegionConfig describes one region. Only identifier is required; unset
// fields match any beacon.
type RegionConfig struct {
	Identifier    string `yaml:"identifier"`
	ProximityUUID string `yaml:"proximity_uuid,omitempty"`
	Major         *int   `yaml:"major,omitempty"`
	Minor         *int   `yaml:"minor,omitempty"`
	MACAddress    string `yaml:"mac_address,omitempty"`
}

// Descriptor returns the region in the map form accepted by subscribe calls.
func (r RegionConfig) Descriptor() map[string]any {
	m := map[string]any{region.KeyIdentifier: r.Identifier}
	if r.ProximityUUID != "" {
		m[region.KeyProximityUUID] = r.ProximityUUID
	}
	if r.Major != nil {
		m[region.KeyMajor] = *r.Major
	}
	if r.Minor != nil {
		m[region.KeyMinor] = *r.Minor
	}
	if r.MACAddress != "" {
		m[region.KeyMAC] = r.MACAddress
	}
	return m
}

// RegionArgs converts a configured region list to subscribe arguments.
func RegionArgs(regions []RegionConfig) []any {
	out := make([]any, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Descriptor())
	}
	return out
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "beacon-scanner")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Adapter:  "hci0",
		Scan: ScanConfig{
			RangingPeriod: time.Second,
			ExitTimeout:   10 * time.Second,
			RetryMax:      30,
		},
		EventBuffer: 64,
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in event_log is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.EventLog = expandTilde(cfg.EventLog)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}

	if c.Scan.RangingPeriod <= 0 {
		return fmt.Errorf("scan.ranging_period must be > 0")
	}
	if c.Scan.ExitTimeout < c.Scan.RangingPeriod {
		return fmt.Errorf("scan.exit_timeout (%s) must be >= scan.ranging_period (%s)",
			c.Scan.ExitTimeout, c.Scan.RangingPeriod)
	}
	if c.Scan.RetryMax <= 0 {
		return fmt.Errorf("scan.retry_max must be > 0")
	}

	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be > 0")
	}

	if err := validateRegions("ranging", c.Ranging); err != nil {
		return err
	}
	return validateRegions("monitoring", c.Monitoring)
}

// validateRegions checks identifiers are present and unique, then runs each
// entry through the same descriptor mapping subscribe uses.
func validateRegions(field string, regions []RegionConfig) error {
	seen := make(map[string]bool, len(regions))
	for i, r := range regions {
		if r.Identifier == "" {
			return fmt.Errorf("%s[%d].identifier must not be empty", field, i)
		}
		if seen[r.Identifier] {
			return fmt.Errorf("%s[%d].identifier %q is duplicated", field, i, r.Identifier)
		}
		seen[r.Identifier] = true
		if _, err := region.FromMap(r.Descriptor()); err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
	}
	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// default to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# beacon-scanner configuration
#
# Regions are listed under "ranging" and "monitoring", for example:
#
# ranging:
#   - identifier: office
#     proximity_uuid: F7826DA6-4FA2-4E98-8024-BC5B71E0893E
#     major: 1
#
`

// WriteDefault writes the default config to DefaultConfigPath. It returns the
// path written, or "" if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
