// Package config loads the YAML file that drives a running nexus
// datastore (data directory, listen address, default ns/db, JWT
// signing secret, logging) via gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/nexus/pkg/log"
)

// DatastoreConfig is the top-level shape of a nexus config file.
type DatastoreConfig struct {
	DataDir     string `yaml:"dataDir"`
	ListenAddr  string `yaml:"listenAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	DefaultNS string `yaml:"defaultNS"`
	DefaultDB string `yaml:"defaultDB"`

	JWTSecret string `yaml:"jwtSecret"`

	Log LogConfig `yaml:"log"`

	SlowQueryThreshold time.Duration `yaml:"slowQueryThreshold"`
}

// LogConfig mirrors pkg/log.Config's fields in YAML-friendly form
// (pkg/log.Config takes an io.Writer, which a config file can't name).
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// defaults are the values nexus runs with when a field is omitted from
// the config file entirely.
func defaults() DatastoreConfig {
	return DatastoreConfig{
		DataDir:            "./nexus-data",
		ListenAddr:         "127.0.0.1:8000",
		MetricsAddr:        "127.0.0.1:9000",
		DefaultNS:          "",
		DefaultDB:          "",
		Log:                LogConfig{Level: "info", JSON: false},
		SlowQueryThreshold: 500 * time.Millisecond,
	}
}

// Load reads and parses path, filling in any field the file omits with
// Defaults()'s values rather than requiring every field to be set.
func Load(path string) (DatastoreConfig, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return DatastoreConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DatastoreConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DatastoreConfig{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration nexus runs with when no file is
// supplied (e.g. `nexus serve` with no --config flag).
func Defaults() DatastoreConfig { return defaults() }

// Validate rejects a config that would leave the datastore half-wired.
func (c DatastoreConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr is required")
	}
	return nil
}

// LogLevel translates the YAML-friendly Log.Level string into
// pkg/log's Level type, defaulting to InfoLevel for an unrecognized or
// empty value the same way pkg/log.Init itself falls back to info.
func (c DatastoreConfig) LogLevel() log.Level {
	switch c.Log.Level {
	case string(log.DebugLevel):
		return log.DebugLevel
	case string(log.WarnLevel):
		return log.WarnLevel
	case string(log.ErrorLevel):
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
