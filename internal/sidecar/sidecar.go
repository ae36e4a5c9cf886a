// Package sidecar reads the optional .openrelik-config file that can
// ride along with a batch of input files to point ingestion at a
// specific cluster and database.
package sidecar

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileName is the display name that marks an input as a sidecar config
// rather than data to ingest.
const FileName = ".openrelik-config"

// Config holds the recognized sidecar keys. Absent keys stay empty and
// the caller falls back to its defaults.
type Config struct {
	ClusterURI string `yaml:"openrelik-kusto-cluster-uri"`
	Database   string `yaml:"openrelik-kusto-database"`

	// Hostname, when set, is prefixed onto every table name so data
	// from multiple machines lands in distinct tables.
	Hostname string `yaml:"hostname"`
}

// ConfigError reports an unreadable or malformed sidecar file. It is
// advisory: callers log it and proceed with defaults.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sidecar config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigFile reports whether an input's display name marks it as a
// sidecar config.
func IsConfigFile(displayName string) bool {
	return displayName == FileName
}

// Load parses a sidecar config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}
