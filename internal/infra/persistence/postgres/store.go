// Package postgres stores datasets in Postgres through the pgx database/sql
// driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"microsim/internal/infra/persistence/sqlstore"
	"microsim/pkg/dataset"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/microsim?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the function used to open connections and returns a
// restore func. Tests use it to inject sqlmock.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

var dialect = sqlstore.Dialect{
	Driver:      dataset.DriverPostgres,
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_arrays (
			dataset TEXT NOT NULL,
			variable TEXT NOT NULL,
			period TEXT NOT NULL,
			labels BOOLEAN NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (dataset, variable, period, labels)
		)`,
	},
}

// Store is a Postgres-backed dataset.Store.
type Store struct {
	*sqlstore.Store
}

// New connects to dsn (defaultDSN when empty), pings and ensures the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}
