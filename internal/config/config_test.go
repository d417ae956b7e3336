package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labexec/internal/blob"
	"labexec/internal/core"
	"labexec/internal/events"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "LABEXEC_") {
			t.Setenv(key, "")
			if err := os.Unsetenv(key); err != nil {
				t.Fatalf("unset %s: %v", key, err)
			}
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != string(core.StorageSQLite) {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Events.Driver != string(events.DriverNone) {
		t.Errorf("Events.Driver = %q, want none", cfg.Events.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Address() != "0.0.0.0:8080" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = " " }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Storage.PostgresDSN = "postgres://localhost/labexec"
		}, false},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis" }, true},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }, true},
		{"unknown blob", func(c *Config) { c.Blob.Driver = "gcs" }, true},
		{"redis events without addr", func(c *Config) { c.Events.Driver = "redis" }, true},
		{"redis events borrow storage addr", func(c *Config) {
			c.Events.Driver = "redis"
			c.Storage.RedisAddr = "localhost:6379"
		}, false},
		{"unknown events", func(c *Config) { c.Events.Driver = "kafka" }, true},
		{"bad log mode", func(c *Config) { c.Logging.Mode = "verbose" }, true},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, true},
		{"metrics disabled ignores path", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Path = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadLayersFileDotenvAndEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "labexec.yaml")
	yamlDoc := `server:
  port: 9090
  read_timeout: 5s
storage:
  driver: memory
blob:
  driver: memory
events:
  driver: memory
  channel: lab.events
logging:
  mode: development
`
	if err := os.WriteFile(cfgPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("LABEXEC_SERVER_PORT=7070\nLABEXEC_CATALOG_PATH=/srv/protocols\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("LABEXEC_SERVER_PORT", "6060")
	t.Setenv("LABEXEC_AUDIT_PATH", "-")

	cfg, err := Load(cfgPath, envPath, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("process env should win, got port %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %s, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 15*time.Second {
		t.Errorf("unset fields should keep defaults, got %s", cfg.Server.WriteTimeout)
	}
	if cfg.Catalog.Path != "/srv/protocols" {
		t.Errorf("dotenv value not applied, got %q", cfg.Catalog.Path)
	}
	if cfg.Audit.Path != "-" || cfg.Logging.Mode != "development" {
		t.Errorf("unexpected audit/logging %+v %+v", cfg.Audit, cfg.Logging)
	}
	if opts := cfg.EventOptions(); opts.Driver != events.DriverMemory || opts.Channel != "lab.events" {
		t.Errorf("unexpected event options %+v", opts)
	}
	if opts := cfg.StorageOptions(); opts.Driver != core.StorageMemory {
		t.Errorf("unexpected storage options %+v", opts)
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("LABEXEC_BLOB_DRIVER", "s3")
	t.Setenv("LABEXEC_BLOB_S3_BUCKET", "archives")
	t.Setenv("LABEXEC_BLOB_S3_PATH_STYLE", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts := cfg.BlobOptions()
	if opts.Driver != blob.DriverS3 || opts.S3Bucket != "archives" || !opts.S3PathStyle {
		t.Fatalf("unexpected blob options %+v", opts)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("server: [\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Fatalf("expected parse error, got %v", err)
	}

	t.Setenv("LABEXEC_SERVER_PORT", "eighty")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "LABEXEC_SERVER_PORT") {
		t.Fatalf("expected port parse error, got %v", err)
	}

	t.Setenv("LABEXEC_SERVER_PORT", "8080")
	t.Setenv("LABEXEC_METRICS_ENABLED", "maybe")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "LABEXEC_METRICS_ENABLED") {
		t.Fatalf("expected bool parse error, got %v", err)
	}

	t.Setenv("LABEXEC_METRICS_ENABLED", "true")
	t.Setenv("LABEXEC_STORAGE_DRIVER", "postgres")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
