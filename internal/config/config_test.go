package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DefaultPort, cfg.Desktop.Port)
	assert.Error(t, cfg.Validate(), "no desktop host configured")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_name: Pocket
store_path: ~/tasks.db
desktop:
  host: desktop.local
protocol:
  min_version: 4
timeouts:
  connect: 5s
  idle: 1m
credentials:
  backend: keyring
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, "Pocket", cfg.DeviceName)
	assert.Equal(t, filepath.Join(home, "tasks.db"), cfg.StorePath)
	assert.Equal(t, "desktop.local", cfg.Desktop.Host)
	assert.Equal(t, DefaultPort, cfg.Desktop.Port, "unset keys keep their default")
	assert.Equal(t, 4, cfg.Protocol.MinVersion)
	assert.Equal(t, 5, cfg.Protocol.MaxVersion)

	tc := cfg.Transport()
	assert.Equal(t, 5*time.Second, tc.ConnectTimeout)
	assert.Equal(t, time.Minute, tc.IdleTimeout)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("desktop: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Desktop.Host = "desktop.local"
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Desktop.Port = 70000 }},
		{"versions below range", func(c *Config) { c.Protocol.MinVersion = 2 }},
		{"versions inverted", func(c *Config) { c.Protocol.MinVersion, c.Protocol.MaxVersion = 5, 4 }},
		{"backend", func(c *Config) { c.Credentials.Backend = "vault" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
