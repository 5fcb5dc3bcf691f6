package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
default: primary
batch_size: 500
backup:
  path: /tmp/backups
  keep_last: 3
connections:
  primary:
    tunnel:
      host: bastion.example.com
      port: "22"
      user: deploy
      private_key: /home/deploy/.ssh/id_ed25519
    source:
      driver: postgres
      database: app
      username: reader
      password: secret
      host: 127.0.0.1
      port: "5432"
    target:
      driver: postgres
      database: app_local
      username: local
      password: local
      host: 127.0.0.1
      port: "5433"
    excluded_tables:
      - audit_log
  legacy_mysql:
    source:
      driver: mysql
      database: old
      host: 127.0.0.1
      port: "3306"
    target:
      driver: postgres
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pgsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ParsesConnectionsAndDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.Default)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 3, cfg.Backup.KeepLast)
	assert.Equal(t, "/tmp/backups", cfg.Backup.Path)

	conn, ok := cfg.Connections["primary"]
	require.True(t, ok)
	assert.Equal(t, "bastion.example.com", conn.Tunnel.Host)
	assert.Equal(t, []string{"audit_log"}, conn.ExcludedTables)
}

func TestLoad_AppliesDefaultsWhenOmitted(t *testing.T) {
	path := writeConfig(t, "connections:\n  only:\n    source:\n      driver: postgres\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.BatchSize)
	assert.Equal(t, 5, cfg.Backup.KeepLast)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConnection_FallsBackToDefault(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	conn, err := cfg.Connection("")
	require.NoError(t, err)
	assert.Equal(t, "app", conn.Source.Database)
}

func TestConnection_UnknownNameIsConfigError(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Connection("nope")
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestConnection_UnsupportedDriverIsConfigError(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Connection("legacy_mysql")
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}
