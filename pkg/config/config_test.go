package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWrappedConfig(t *testing.T) {
	path := writeConfig(t, `{
		"logging": {"level": "debug", "format": "json", "output": "stdout"},
		"fingerprints": {"type": "badger", "path": "/tmp/fpr"},
		"metrics": {"enabled": true},
		"storages": {
			"mirror": {"type": "local", "basedir": "/srv/mirror"},
			"archive": {
				"type": "s3",
				"bucket": "archive",
				"region": "eu-west-3",
				"access_key_id": "AKIA",
				"secret_access_key": "secret"
			}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging config = %+v", cfg.Logging)
	}
	if cfg.Fingerprints.Type != "badger" || cfg.Fingerprints.Path != "/tmp/fpr" {
		t.Errorf("fingerprints config = %+v", cfg.Fingerprints)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics not enabled")
	}
	if len(cfg.Storages) != 2 {
		t.Fatalf("parsed %d storages", len(cfg.Storages))
	}

	mirror := cfg.Storages["mirror"]
	if mirror.Type != "local" {
		t.Errorf("mirror type = %q", mirror.Type)
	}
	if mirror.Options["basedir"] != "/srv/mirror" {
		t.Errorf("mirror options = %v", mirror.Options)
	}

	archive := cfg.Storages["archive"]
	if archive.Type != "s3" {
		t.Errorf("archive type = %q", archive.Type)
	}
	if archive.Options["bucket"] != "archive" || archive.Options["region"] != "eu-west-3" {
		t.Errorf("archive options = %v", archive.Options)
	}
	if _, ok := archive.Options["type"]; ok {
		t.Error("type key leaked into the option map")
	}
}

func TestLoadTransferConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"transfer": {"max_per_second": 5, "burst": 10}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transfer.MaxPerSecond != 5 || cfg.Transfer.Burst != 10 {
		t.Errorf("transfer config = %+v", cfg.Transfer)
	}
}

func TestLoadTopLevelStorages(t *testing.T) {
	// Older configuration files put the storage map at the top level.
	path := writeConfig(t, `{
		"logging": {"level": "info", "format": "text", "output": "stderr"},
		"mirror": {"type": "local", "basedir": "/srv/mirror"},
		"web": {"type": "http", "get_pattern": "http://example/%s"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Storages) != 2 {
		t.Fatalf("parsed %d storages: %v", len(cfg.Storages), cfg.Storages)
	}
	if cfg.Storages["mirror"].Type != "local" {
		t.Errorf("mirror = %+v", cfg.Storages["mirror"])
	}
	if cfg.Storages["web"].Options["get_pattern"] != "http://example/%s" {
		t.Errorf("web options = %v", cfg.Storages["web"].Options)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stderr" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Fingerprints.Type != "sidecar" {
		t.Errorf("fingerprint default = %+v", cfg.Fingerprints)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics enabled by default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatal("Load accepted malformed JSON")
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		return &Config{
			Logging:      LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
			Fingerprints: FingerprintConfig{Type: "sidecar"},
			Storages: map[string]StorageConfig{
				"mirror": {Type: "local"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
		},
		{
			name:    "badger without path",
			mutate:  func(c *Config) { c.Fingerprints = FingerprintConfig{Type: "badger"} },
			wantMsg: "path is required",
		},
		{
			name:   "unknown storage type",
			mutate: func(c *Config) { c.Storages["mirror"] = StorageConfig{Type: "ftp"} },
		},
		{
			name:    "single letter identifier",
			mutate:  func(c *Config) { c.Storages["x"] = StorageConfig{Type: "local"} },
			wantMsg: "at least two characters",
		},
		{
			name:    "identifier with colon",
			mutate:  func(c *Config) { c.Storages["bad:id"] = StorageConfig{Type: "local"} },
			wantMsg: "must not contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := &Config{
		Logging:      LoggingConfig{Level: "warn", Format: "json", Output: "stdout"},
		Fingerprints: FingerprintConfig{Type: "badger", Path: "/tmp/fpr"},
		Storages: map[string]StorageConfig{
			"mirror": {Type: "local"},
			"remote": {Type: "ssh"},
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()

	b, err := CreateBackend(ctx, "mirror", StorageConfig{
		Type:    "local",
		Options: map[string]any{"basedir": "/srv/mirror"},
	}, nil)
	if err != nil {
		t.Fatalf("CreateBackend(local): %v", err)
	}
	if b.Type() != "local" || b.ID() != "mirror" {
		t.Errorf("local backend = %s/%s", b.ID(), b.Type())
	}

	b, err = CreateBackend(ctx, "web", StorageConfig{
		Type:    "http",
		Options: map[string]any{"get_pattern": "http://example/%s"},
	}, nil)
	if err != nil {
		t.Fatalf("CreateBackend(http): %v", err)
	}
	if b.Type() != "http" {
		t.Errorf("http backend type = %q", b.Type())
	}

	b, err = CreateBackend(ctx, "cm", StorageConfig{
		Type:    "corpus",
		Options: map[string]any{"host_url": "http://example", "account_id": "acct"},
	}, nil)
	if err != nil {
		t.Fatalf("CreateBackend(corpus): %v", err)
	}
	if b.Type() != "corpus" {
		t.Errorf("corpus backend type = %q", b.Type())
	}

	b, err = CreateBackend(ctx, "remote", StorageConfig{
		Type: "ssh",
		Options: map[string]any{
			"server":   "files.example.com",
			"user":     "sync",
			"password": "secret",
		},
	}, nil)
	if err != nil {
		t.Fatalf("CreateBackend(ssh): %v", err)
	}
	if b.Type() != "ssh" {
		t.Errorf("ssh backend type = %q", b.Type())
	}

	if _, err := CreateBackend(ctx, "bad", StorageConfig{Type: "ftp"}, nil); err == nil {
		t.Error("CreateBackend accepted an unknown type")
	}

	// Required option missing.
	if _, err := CreateBackend(ctx, "web", StorageConfig{Type: "http"}, nil); err == nil {
		t.Error("CreateBackend built an http backend without get_pattern")
	}
	if _, err := CreateBackend(ctx, "remote", StorageConfig{Type: "ssh"}, nil); err == nil {
		t.Error("CreateBackend built an ssh backend without server")
	}
}

func TestNewClient(t *testing.T) {
	basedir := t.TempDir()
	cfg := &Config{
		Logging:      LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		Fingerprints: FingerprintConfig{Type: "none"},
		Storages: map[string]StorageConfig{
			"mirror": {Type: "local", Options: map[string]any{"basedir": basedir}},
		},
	}

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if !client.IsManagedPath("mirror:data/file.txt") {
		t.Error("configured storage not recognized as managed")
	}
	if client.IsManagedPath("other:data/file.txt") {
		t.Error("unconfigured storage recognized as managed")
	}
}
