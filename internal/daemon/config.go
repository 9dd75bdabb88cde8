// Package daemon wires every DroneD subsystem together and owns the
// process lifecycle: startup ordering, signal handling, and shutdown.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration, loaded from a TOML file the way
// the teacher's daemon.Config does.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Blaster   BlasterConfig   `toml:"blaster"`
	Security  SecurityConfig  `toml:"security"`
	Apps      AppsConfig      `toml:"apps"`
	Journal   JournalConfig   `toml:"journal"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this host.
type NodeConfig struct {
	ID   string `toml:"id"`
	Home string `toml:"home"`
}

// BlasterConfig controls the signed RPC server/client.
type BlasterConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	Peers       []string `toml:"peers"`
	PrimeFile   string   `toml:"prime_file"`
	ContentType string   `toml:"content_type"`
}

// SecurityConfig controls the keyring.
type SecurityConfig struct {
	KeyDir   string `toml:"key_dir"`
	SignerID string `toml:"signer_id"`
}

// AppsConfig controls the application supervisor.
type AppsConfig struct {
	ConfigDir      string   `toml:"config_dir"`
	AssimilateExes []string `toml:"assimilate_executables"`
}

// JournalConfig controls the snapshot journal.
type JournalConfig struct {
	Dir    string `toml:"dir"`
	Retain int    `toml:"retain"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}

// TelemetryConfig controls the optional Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool   `toml:"prometheus"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
}

// DefaultConfig returns reasonable defaults rooted at droneHome().
func DefaultConfig() Config {
	home := droneHome()
	return Config{
		Node: NodeConfig{ID: "localhost", Home: home},
		Blaster: BlasterConfig{
			Host:        "0.0.0.0",
			Port:        5500,
			PrimeFile:   filepath.Join(home, "primes.dat"),
			ContentType: "application/droned-json",
		},
		Security: SecurityConfig{
			KeyDir:   filepath.Join(home, "keys"),
			SignerID: "localhost",
		},
		Apps: AppsConfig{
			ConfigDir: filepath.Join(home, "apps"),
		},
		Journal: JournalConfig{
			Dir:    filepath.Join(home, "journal"),
			Retain: 60,
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Prometheus: true,
			Host:       "127.0.0.1",
			Port:       9090,
		},
	}
}

// droneHome returns $DRONED_HOME, or ~/.droned if unset.
func droneHome() string {
	if h := os.Getenv("DRONED_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/droned"
	}
	return filepath.Join(home, ".droned")
}

// LoadConfig reads configuration from $DRONED_HOME/droned.toml, or returns
// DefaultConfig if that file doesn't exist.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(droneHome(), "droned.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to $DRONED_HOME/droned.toml.
func SaveConfig(cfg Config) error {
	home := cfg.Node.Home
	if home == "" {
		home = droneHome()
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	path := filepath.Join(home, "droned.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
