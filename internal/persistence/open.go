// Package persistence opens the dataset store selected by configuration.
package persistence

import (
	"context"
	"fmt"

	"microsim/internal/blob"
	"microsim/internal/config"
	"microsim/internal/infra/persistence/blobstore"
	"microsim/internal/infra/persistence/memory"
	"microsim/internal/infra/persistence/postgres"
	"microsim/internal/infra/persistence/redis"
	"microsim/internal/infra/persistence/sqlite"
	"microsim/pkg/dataset"
)

// Open selects a dataset.Store from cfg.Storage. The blob driver stores
// datasets in the object store described by cfg.Blob.
//
//	MICROSIM_STORAGE_DRIVER: memory|sqlite|postgres|redis|blob (default memory)
//	MICROSIM_SQLITE_PATH, MICROSIM_POSTGRES_DSN, MICROSIM_REDIS_ADDR
func Open(ctx context.Context, cfg config.Config) (dataset.Store, error) {
	driver := cfg.Storage.Driver
	if driver == "" {
		driver = dataset.DriverMemory
	}
	switch driver {
	case dataset.DriverMemory:
		return memory.New(), nil
	case dataset.DriverSQLite:
		s, err := sqlite.New(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case dataset.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case dataset.DriverRedis:
		s, err := redis.New(ctx, cfg.Storage.RedisAddr)
		if err != nil {
			return nil, err
		}
		return s, nil
	case dataset.DriverBlob:
		blobs, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
		return blobstore.New(blobs), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

