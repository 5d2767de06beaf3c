package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lostfound.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")

	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadShortAndLongFlags(t *testing.T) {
	t.Setenv(EnvConfig, "")

	cfg, err := Load([]string{"-d", "x.db", "--addr", ":9000", "-u", "root", "--store-timeout", "2s"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.DBPath)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "root", cfg.AdminUser)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
}

func TestFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/lostfound.db
addr: ":7000"
store_timeout: 3s
reconcile_interval: 0s
redis_url: redis://localhost:6379/0
`)
	t.Setenv(EnvConfig, "")

	cfg, err := Load([]string{"--config", path, "-a", ":7001"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lostfound.db", cfg.DBPath)
	assert.Equal(t, ":7001", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "lostfound:changes", cfg.RedisChannel)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv(EnvConfig, writeConfig(t, "admin_user: keeper\n"))

	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "keeper", cfg.AdminUser)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfig, "")

	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	assert.Error(t, err)

	_, err = Load([]string{"--config", writeConfig(t, "db: [unclosed")}, io.Discard)
	assert.Error(t, err)

	_, err = Load([]string{"--store-timeout", "0s"}, io.Discard)
	assert.ErrorContains(t, err, "store timeout")

	_, err = Load([]string{"extra"}, io.Discard)
	assert.ErrorContains(t, err, "unexpected argument")

	_, err = Load([]string{"--help"}, io.Discard)
	assert.True(t, errors.Is(err, ErrHelp))
}
