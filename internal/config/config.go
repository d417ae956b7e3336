// Package config assembles labexec settings from a YAML file, optional .env
// files and LABEXEC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"labexec/internal/blob"
	"labexec/internal/core"
	"labexec/internal/events"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Events  EventsConfig  `yaml:"events"`
	Catalog CatalogConfig `yaml:"catalog"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres|redis
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type BlobConfig struct {
	Driver      string `yaml:"driver"` // fs|s3|memory
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

type EventsConfig struct {
	Driver    string `yaml:"driver"` // none|memory|redis
	RedisAddr string `yaml:"redis_addr"`
	Channel   string `yaml:"channel"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"` // development|production
}

// AuditConfig points the JSON-lines audit trail at a file. "-" means stdout;
// empty disables auditing.
type AuditConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      string(core.StorageSQLite),
			SQLitePath:  "labexec.db",
			RedisPrefix: "labexec",
		},
		Blob: BlobConfig{
			Driver: string(blob.DriverFilesystem),
			FSRoot: "blobdata",
		},
		Events: EventsConfig{
			Driver:  string(events.DriverNone),
			Channel: "labexec.executions",
		},
		Catalog: CatalogConfig{Path: "protocols"},
		Logging: LoggingConfig{Mode: "production"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing: TracingConfig{ServiceName: "labexec"},
	}
}

// Load builds a Config from DefaultConfig, the YAML file at path (skipped when
// empty), the given .env files (missing files are ignored) and the process
// environment. Process variables win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from a CLI flag
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	dotenv := map[string]string{}
	for _, file := range envFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading env file %s: %w", file, err)
		}
		for k, v := range values {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("LABEXEC_SERVER_HOST", &c.Server.Host)
	if v, ok := lookup("LABEXEC_SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LABEXEC_SERVER_PORT: %w", err))
		} else {
			c.Server.Port = port
		}
	}

	str("LABEXEC_STORAGE_DRIVER", &c.Storage.Driver)
	str("LABEXEC_SQLITE_PATH", &c.Storage.SQLitePath)
	str("LABEXEC_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("LABEXEC_REDIS_ADDR", &c.Storage.RedisAddr)
	str("LABEXEC_REDIS_PREFIX", &c.Storage.RedisPrefix)

	str("LABEXEC_BLOB_DRIVER", &c.Blob.Driver)
	str("LABEXEC_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("LABEXEC_BLOB_S3_BUCKET", &c.Blob.S3Bucket)
	str("LABEXEC_BLOB_S3_REGION", &c.Blob.S3Region)
	str("LABEXEC_BLOB_S3_ENDPOINT", &c.Blob.S3Endpoint)
	boolean("LABEXEC_BLOB_S3_PATH_STYLE", &c.Blob.S3PathStyle)

	str("LABEXEC_EVENTS_DRIVER", &c.Events.Driver)
	str("LABEXEC_EVENTS_REDIS_ADDR", &c.Events.RedisAddr)
	str("LABEXEC_EVENTS_CHANNEL", &c.Events.Channel)

	str("LABEXEC_CATALOG_PATH", &c.Catalog.Path)
	str("LABEXEC_LOG_MODE", &c.Logging.Mode)
	str("LABEXEC_AUDIT_PATH", &c.Audit.Path)
	boolean("LABEXEC_METRICS_ENABLED", &c.Metrics.Enabled)
	boolean("LABEXEC_TRACING_ENABLED", &c.Tracing.Enabled)
	return errors.Join(errs...)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory:
	case core.StorageSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case core.StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	case core.StorageRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres, redis", c.Storage.Driver)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if strings.TrimSpace(c.Blob.S3Bucket) == "" {
			return fmt.Errorf("blob.s3_bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver %q is not one of fs, s3, memory", c.Blob.Driver)
	}
	switch events.Driver(c.Events.Driver) {
	case "", events.DriverNone, events.DriverMemory:
	case events.DriverRedis:
		if c.eventsRedisAddr() == "" {
			return fmt.Errorf("events.redis_addr (or storage.redis_addr) is required for the redis event driver")
		}
	default:
		return fmt.Errorf("events.driver %q is not one of none, memory, redis", c.Events.Driver)
	}
	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		return fmt.Errorf("logging.mode must be development or production, got %q", c.Logging.Mode)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StorageOptions converts the storage section for core.OpenPersistentStore.
func (c *Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		RedisAddr:   c.Storage.RedisAddr,
		RedisPrefix: c.Storage.RedisPrefix,
	}
}

// BlobOptions converts the blob section for blob.Open.
func (c *Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver:      blob.Driver(c.Blob.Driver),
		FSRoot:      c.Blob.FSRoot,
		S3Bucket:    c.Blob.S3Bucket,
		S3Region:    c.Blob.S3Region,
		S3Endpoint:  c.Blob.S3Endpoint,
		S3PathStyle: c.Blob.S3PathStyle,
	}
}

// EventOptions converts the events section for events.Open. The event bus
// reuses the storage redis address when it has none of its own.
func (c *Config) EventOptions() events.Options {
	return events.Options{
		Driver:    events.Driver(c.Events.Driver),
		RedisAddr: c.eventsRedisAddr(),
		Channel:   c.Events.Channel,
	}
}

func (c *Config) eventsRedisAddr() string {
	if addr := strings.TrimSpace(c.Events.RedisAddr); addr != "" {
		return addr
	}
	return strings.TrimSpace(c.Storage.RedisAddr)
}
