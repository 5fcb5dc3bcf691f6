// Package config loads the YAML configuration file describing named
// connections, backup retention, and default batch size. Connections
// are keyed by name so one file can describe several source/target
// pairs, with a default picked when the caller doesn't name one.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig is one side (source or target) of a connection.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// TunnelConfig describes the SSH tunnel used to reach Source.
type TunnelConfig struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	PrivateKey string `yaml:"private_key"`
}

// Connection is one named entry under `connections` in the config
// file.
type Connection struct {
	Tunnel         TunnelConfig   `yaml:"tunnel"`
	Source         DatabaseConfig `yaml:"source"`
	Target         DatabaseConfig `yaml:"target"`
	ExcludedTables []string       `yaml:"excluded_tables"`
}

// BackupConfig configures where backups are written and how many are
// kept.
type BackupConfig struct {
	Path     string `yaml:"path"`
	KeepLast int    `yaml:"keep_last"`
}

// Config is the full parsed configuration file.
type Config struct {
	Default     string                `yaml:"default"`
	BatchSize   int                   `yaml:"batch_size"`
	Backup      BackupConfig          `yaml:"backup"`
	Connections map[string]Connection `yaml:"connections"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.Backup.KeepLast <= 0 {
		cfg.Backup.KeepLast = 5
	}

	return &cfg, nil
}

// Connection looks up a named connection, falling back to Default
// when name is empty.
func (c *Config) Connection(name string) (Connection, error) {
	if name == "" {
		name = c.Default
	}
	conn, ok := c.Connections[name]
	if !ok {
		return Connection{}, &ConfigError{Reason: fmt.Sprintf("unknown connection %q", name)}
	}
	if conn.Source.Driver != "" && conn.Source.Driver != "postgres" {
		return Connection{}, &ConfigError{Reason: fmt.Sprintf("unsupported driver %q for connection %q", conn.Source.Driver, name)}
	}
	return conn, nil
}

// ConfigError reports a missing connection name or an unsupported
// driver. Always fatal at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }
