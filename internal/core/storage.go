package core

import (
	"context"
	"fmt"
	"os"

	"labexec/internal/infra/persistence/memory"
	"labexec/internal/infra/persistence/postgres"
	"labexec/internal/infra/persistence/redis"
	"labexec/internal/infra/persistence/sqlite"
	"labexec/pkg/domain"
)

// StorageDriver identifies a concrete execution store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // Redis with WATCH/MULTI saves
)

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	RedisAddr   string
	RedisPrefix string
}

// StorageOptionsFromEnv reads backend settings from the environment.
//
//	LABEXEC_STORAGE_DRIVER: memory|sqlite|postgres|redis (default sqlite)
//	LABEXEC_SQLITE_PATH: path to sqlite file (default ./labexec.db)
//	LABEXEC_POSTGRES_DSN: postgres DSN when driver=postgres
//	LABEXEC_REDIS_ADDR, LABEXEC_REDIS_PREFIX: redis settings when driver=redis
func StorageOptionsFromEnv() StorageOptions {
	return StorageOptions{
		Driver:      StorageDriver(os.Getenv("LABEXEC_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("LABEXEC_SQLITE_PATH"),
		PostgresDSN: os.Getenv("LABEXEC_POSTGRES_DSN"),
		RedisAddr:   os.Getenv("LABEXEC_REDIS_ADDR"),
		RedisPrefix: os.Getenv("LABEXEC_REDIS_PREFIX"),
	}
}

// OpenPersistentStore opens the configured backend. Defaults to sqlite.
func OpenPersistentStore(ctx context.Context, opts StorageOptions) (domain.ExecutionStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, opts.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	case StorageRedis:
		return redis.Open(ctx, opts.RedisAddr, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
