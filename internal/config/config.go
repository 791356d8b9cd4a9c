// Package config loads the settings file.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config holds every tunable of the companion.
type Config struct {
	Device          string        `mapstructure:"device"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         string        `mapstructure:"log_file"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	DisconnectAfter int           `mapstructure:"disconnect_after"`
	Cache           CacheConfig   `mapstructure:"cache"`
}

// CacheConfig configures the artwork cache.
type CacheConfig struct {
	MaxEntries           int           `mapstructure:"max_entries"`
	MaxBytes             int64         `mapstructure:"max_bytes"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries         int           `mapstructure:"fetch_retries"`
	MaxConcurrentFetches int64         `mapstructure:"max_concurrent_fetches"`
}

// Default returns the settings used when no file overrides them.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		PollInterval:    time.Second,
		DisconnectAfter: 3,
		Cache: CacheConfig{
			MaxEntries:           2,
			MaxBytes:             64 << 20,
			FetchTimeout:         30 * time.Second,
			FetchRetries:         2,
			MaxConcurrentFetches: 1,
		},
	}
}

// DefaultPath is settings.json in the user's config directory.
func DefaultPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "appPath: failed to get config dir")
	}
	return filepath.Join(oscfg, "castcompanion", "settings.json"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads path, or DefaultPath when path is empty. A missing file is
// created with the defaults. Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "Load: failed to read config")
		}
		conf := Default()
		if err := conf.Save(path); err != nil {
			return nil, errors.Wrap(err, "Load: failed to store default config")
		}
		return conf, nil
	}

	raw := make(map[string]any)
	if isYAML(path) {
		err = yaml.Unmarshal(b, &raw)
	} else if len(bytes.TrimSpace(b)) > 0 {
		err = json.Unmarshal(b, &raw)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Load: failed to parse %s", path)
	}

	conf := Default()
	if err := conf.apply(raw); err != nil {
		return nil, errors.Wrapf(err, "Load: failed to decode %s", path)
	}
	return conf, nil
}

// apply decodes raw on top of c. Values are weakly typed so that "30s",
// "2" and 2 are all accepted where they make sense.
func (c *Config) apply(raw map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Save writes c to path as JSON, or YAML for .yaml/.yml paths.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "SaveAppConfig: failed to create config dir")
	}

	m, err := c.fileMap()
	if err != nil {
		return errors.Wrap(err, "SaveAppConfig: failed to encode config")
	}
	var b []byte
	if isYAML(path) {
		b, err = yaml.Marshal(m)
	} else {
		b, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "SaveAppConfig: failed to marshal config")
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "SaveAppConfig: failed to save config")
	}
	return nil
}

// fileMap is the on-disk shape: c encoded through its mapstructure tags,
// with durations spelled out.
func (c *Config) fileMap() (map[string]any, error) {
	m := make(map[string]any)
	if err := mapstructure.Decode(c, &m); err != nil {
		return nil, err
	}
	stringifyDurations(m)
	return m, nil
}

func stringifyDurations(m map[string]any) {
	for k, v := range m {
		switch v := v.(type) {
		case time.Duration:
			m[k] = v.String()
		case map[string]any:
			stringifyDurations(v)
		}
	}
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalid, "log_level %q", c.LogLevel)
	}
	switch {
	case c.PollInterval <= 0:
		return errors.Wrap(ErrInvalid, "poll_interval must be positive")
	case c.DisconnectAfter <= 0:
		return errors.Wrap(ErrInvalid, "disconnect_after must be positive")
	case c.Cache.MaxEntries <= 0:
		return errors.Wrap(ErrInvalid, "cache.max_entries must be positive")
	case c.Cache.MaxBytes <= 0:
		return errors.Wrap(ErrInvalid, "cache.max_bytes must be positive")
	case c.Cache.FetchTimeout <= 0:
		return errors.Wrap(ErrInvalid, "cache.fetch_timeout must be positive")
	case c.Cache.FetchRetries < 0:
		return errors.Wrap(ErrInvalid, "cache.fetch_retries must not be negative")
	case c.Cache.MaxConcurrentFetches <= 0:
		return errors.Wrap(ErrInvalid, "cache.max_concurrent_fetches must be positive")
	}
	return nil
}

// Level returns the parsed log level, info when it cannot be parsed.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
