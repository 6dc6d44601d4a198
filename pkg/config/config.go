// Package config loads and validates the polystore configuration and
// builds the storage client from it.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete polystore configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (POLYSTORE_*)
//  2. Configuration file (JSON)
//  3. Default values
//
// Storage Configuration Pattern:
// Each storage entry names its backend type; all remaining keys in the
// entry are backend-specific options decoded by the matching factory.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Fingerprints selects where download fingerprints are recorded
	Fingerprints FingerprintConfig `mapstructure:"fingerprints"`

	// Metrics controls Prometheus transfer metrics
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Transfer bounds the rate of file transfers
	Transfer TransferConfig `mapstructure:"transfer"`

	// Storages maps storage identifiers to their backend definitions
	Storages map[string]StorageConfig `mapstructure:"storages" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: debug, info, warn, error
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// FingerprintConfig selects the fingerprint store used for
// skip-if-unchanged detection.
type FingerprintConfig struct {
	// Type specifies which fingerprint store implementation to use
	// Valid values: sidecar, badger, none
	Type string `mapstructure:"type" validate:"required,oneof=sidecar badger none"`

	// Path is the database directory, required when Type = "badger"
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus metrics registry.
type MetricsConfig struct {
	// Enabled turns transfer metrics collection on
	Enabled bool `mapstructure:"enabled"`
}

// TransferConfig bounds the sustained transfer rate of the sync engine.
type TransferConfig struct {
	// MaxPerSecond caps how many file transfers may start per second.
	// Zero disables throttling.
	MaxPerSecond uint `mapstructure:"max_per_second"`

	// Burst is how many transfers may start back to back (defaults to
	// MaxPerSecond)
	Burst uint `mapstructure:"burst"`
}

// StorageConfig defines a single storage backend.
type StorageConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: local, s3, ssh, swift, http, corpus
	Type string `mapstructure:"type" validate:"required,oneof=local s3 ssh swift http corpus"`

	// Options holds the backend-specific keys of the entry
	Options map[string]any `mapstructure:",remain"`
}

// Load loads configuration from file, environment, and defaults.
//
// The file is JSON. A top-level "storages" key is optional: a file whose
// top level is the storage map itself is accepted for compatibility with
// older deployments.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("POLYSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found", configPath)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Storages) == 0 {
		storages, err := storagesFromTopLevel(v)
		if err != nil {
			return nil, err
		}
		cfg.Storages = storages
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// storagesFromTopLevel interprets the whole file as a storage map for
// configs written without the "storages" wrapper. Known section names
// are skipped.
func storagesFromTopLevel(v *viper.Viper) (map[string]StorageConfig, error) {
	reserved := map[string]bool{
		"logging":      true,
		"fingerprints": true,
		"metrics":      true,
		"transfer":     true,
		"storages":     true,
	}

	storages := map[string]StorageConfig{}
	for key, value := range v.AllSettings() {
		if reserved[key] {
			continue
		}
		entry, ok := value.(map[string]any)
		if ok && entry["type"] != nil {
			var sc StorageConfig
			if err := decodeOptions(entry, &sc); err != nil {
				return nil, fmt.Errorf("storage %s: %w", key, err)
			}
			storages[key] = sc
		}
	}
	return storages, nil
}

// ApplyDefaults fills in default values for missing configuration.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Fingerprints.Type == "" {
		cfg.Fingerprints.Type = "sidecar"
	}
}
