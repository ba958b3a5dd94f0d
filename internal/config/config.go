// Package config loads pgfrontdoor's configuration from an optional YAML
// file plus environment variable overrides, following the precedence order
// defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the Router's full configuration (spec.md §3 "Router").
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Backend   BackendConfig   `yaml:"backend"`
	Provision ProvisionConfig `yaml:"provision"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ListenConfig is the front-end TCP endpoint clients connect to.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxConnections is the Router's connection ceiling (0 = unlimited).
	MaxConnections int `yaml:"max_connections"`
}

// BackendConfig describes the embedded PostgreSQL server the Router fronts.
type BackendConfig struct {
	// DataDir is the data directory. Empty means ephemeral (allocated under
	// the OS temp area and removed on shutdown).
	DataDir string `yaml:"data_dir"`
	// UseRAMDisk requests an ephemeral data directory backed by shared
	// memory (e.g. /dev/shm) instead of the regular temp area.
	UseRAMDisk bool `yaml:"use_ram_disk"`
	// Port is the TCP port the backend listens on; 0 picks an ephemeral
	// free port at supervisor start.
	Port int `yaml:"port"`
	// BinDir, if set, is searched for the `postgres`/`initdb` binaries
	// before $PATH.
	BinDir string `yaml:"bin_dir"`
	// AdminUser/AdminPassword authenticate the Admin Channel; AdminPassword
	// is generated at initdb time when empty.
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	// LogicalReplication adds wal_level=logical and friends at spawn time
	// for the optional outbound-sync collaborator (spec.md §6).
	LogicalReplication bool `yaml:"logical_replication"`
	// StartupTimeout bounds how long the supervisor waits for the backend
	// to accept connections.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// ProvisionConfig controls auto-provisioning behavior.
type ProvisionConfig struct {
	// AutoProvision, when false, rejects unknown databases instead of
	// creating them (CLI surface's `auto-provision` flag).
	AutoProvision bool `yaml:"auto_provision"`
	// MaxStartupMessageSize bounds the StartupMessage length the Wire
	// Decoder will accept, in bytes (spec.md §4.1, §9 Open Questions).
	MaxStartupMessageSize int `yaml:"max_startup_message_size"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:           "0.0.0.0",
			Port:           5432,
			MaxConnections: 0,
		},
		Backend: BackendConfig{
			AdminUser:      "postgres",
			StartupTimeout: 30 * time.Second,
		},
		Provision: ProvisionConfig{
			AutoProvision:         true,
			MaxStartupMessageSize: 1 << 20, // 1 MiB
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads Default(), overlays the YAML file at path (if non-empty; a
// missing or unreadable file is an error), then overlays environment
// variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("PGFRONTDOOR_LISTEN_HOST"); v != "" {
		cfg.Listen.Host = v
	}
	if v := os.Getenv("PGFRONTDOOR_LISTEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = p
		}
	}
	if v := os.Getenv("PGFRONTDOOR_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Listen.MaxConnections = n
		}
	}
	if v := os.Getenv("PGFRONTDOOR_DATA_DIR"); v != "" {
		cfg.Backend.DataDir = v
	}
	if v := os.Getenv("PGFRONTDOOR_BACKEND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Backend.Port = p
		}
	}
	if v := os.Getenv("PGFRONTDOOR_ADMIN_USER"); v != "" {
		cfg.Backend.AdminUser = v
	}
	if v := os.Getenv("PGFRONTDOOR_ADMIN_PASSWORD"); v != "" {
		cfg.Backend.AdminPassword = v
	}
	if v := os.Getenv("PGFRONTDOOR_AUTO_PROVISION"); v != "" {
		cfg.Provision.AutoProvision = v != "false" && v != "0"
	}
	if v := os.Getenv("PGFRONTDOOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PGFRONTDOOR_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

func validate(cfg *Config) error {
	if cfg.Listen.Port == 0 {
		return fmt.Errorf("listen.port is required")
	}
	if cfg.Provision.MaxStartupMessageSize <= 8 {
		return fmt.Errorf("provision.max_startup_message_size must be > 8")
	}
	return nil
}
