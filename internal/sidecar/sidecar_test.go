package sidecar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    Config
	}{
		{
			name: "all keys",
			content: "openrelik-kusto-cluster-uri: https://cluster.example.net\n" +
				"openrelik-kusto-database: forensics\n" +
				"hostname: WORKSTATION01\n",
			want: Config{
				ClusterURI: "https://cluster.example.net",
				Database:   "forensics",
				Hostname:   "WORKSTATION01",
			},
		},
		{
			name:    "partial keys leave rest empty",
			content: "openrelik-kusto-database: forensics\n",
			want:    Config{Database: "forensics"},
		},
		{
			name:    "unknown keys ignored",
			content: "openrelik-kusto-database: d\nsomething-else: 42\n",
			want:    Config{Database: "d"},
		},
		{
			name:    "empty file",
			content: "",
			want:    Config{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Load(writeFile(t, "cfg.yaml", tt.content))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "cfg.yaml", "::::\n\t- not yaml"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestIsConfigFile(t *testing.T) {
	t.Parallel()

	if !IsConfigFile(".openrelik-config") {
		t.Error("IsConfigFile(.openrelik-config) = false")
	}
	if IsConfigFile("hosts.csv") {
		t.Error("IsConfigFile(hosts.csv) = true")
	}
	if IsConfigFile("openrelik-config") {
		t.Error("IsConfigFile without leading dot = true")
	}
}
