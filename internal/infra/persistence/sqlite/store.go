// Package sqlite stores datasets in a local SQLite file through the pure Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"microsim/internal/infra/persistence/sqlstore"
	"microsim/pkg/dataset"
)

var dialect = sqlstore.Dialect{
	Driver: dataset.DriverSQLite,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_arrays (
			dataset TEXT NOT NULL,
			variable TEXT NOT NULL,
			period TEXT NOT NULL,
			labels INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (dataset, variable, period, labels)
		)`,
	},
}

// Store is a SQLite-backed dataset.Store.
type Store struct {
	*sqlstore.Store
	path string
}

// New opens (creating if needed) the database at path. An empty path means
// microsim.db in the working directory.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "microsim.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
