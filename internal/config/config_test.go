package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castcompanion", "settings.json")

	conf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), conf)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), again)
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"device": "http://192.168.1.20:8009",
		"poll_interval": "500ms",
		"cache": {"max_entries": "4", "fetch_timeout": "10s"}
	}`), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://192.168.1.20:8009", conf.Device)
	require.Equal(t, 500*time.Millisecond, conf.PollInterval)
	require.Equal(t, 4, conf.Cache.MaxEntries)
	require.Equal(t, 10*time.Second, conf.Cache.FetchTimeout)
	require.Equal(t, int64(64<<20), conf.Cache.MaxBytes)
	require.Equal(t, 3, conf.DisconnectAfter)
	require.NoError(t, conf.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\ncache:\n  max_bytes: 1048576\n  fetch_retries: 0\n"), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", conf.LogLevel)
	require.Equal(t, int64(1<<20), conf.Cache.MaxBytes)
	require.Zero(t, conf.Cache.FetchRetries)
}

func TestSaveRoundTripsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	conf := Default()
	conf.Device = "livingroom.local"
	conf.Cache.FetchTimeout = 5 * time.Second
	require.NoError(t, conf.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, conf, got)
}

func TestSaveWritesEveryField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, Default().Save(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{
		`"device"`, `"log_level"`, `"log_file"`, `"metrics_addr"`, `"disconnect_after"`,
		`"max_entries"`, `"max_bytes"`, `"fetch_retries"`, `"max_concurrent_fetches"`,
		`"poll_interval": "1s"`, `"fetch_timeout": "30s"`,
	} {
		require.Contains(t, string(b), key)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme": "Dark"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device":`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"disconnect after", func(c *Config) { c.DisconnectAfter = -1 }},
		{"max entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"max bytes", func(c *Config) { c.Cache.MaxBytes = 0 }},
		{"fetch timeout", func(c *Config) { c.Cache.FetchTimeout = -time.Second }},
		{"fetch retries", func(c *Config) { c.Cache.FetchRetries = -1 }},
		{"concurrent fetches", func(c *Config) { c.Cache.MaxConcurrentFetches = 0 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() err = %v, want ErrInvalid", err)
			}
		})
	}
}
