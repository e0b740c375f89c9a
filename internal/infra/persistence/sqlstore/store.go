// Package sqlstore persists datasets in two SQL tables, one row per dataset
// and one row per (variable, period) array. The SQLite and Postgres drivers
// differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"microsim/pkg/dataset"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Driver dataset.Driver
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Schema is executed once when the store opens.
	Schema []string
}

// Store implements dataset.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the dialect's schema to db.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", d.Driver, err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() dataset.Driver { return s.dialect.Driver }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// bind rewrites '?' markers into the dialect's placeholders.
func (s *Store) bind(query string) string {
	if s.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Save(ctx context.Context, name string, data *dataset.Data) (retErr error) {
	if name == "" {
		return fmt.Errorf("dataset name required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM dataset_arrays WHERE dataset = ?`), name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO datasets(name, saved_at) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET saved_at = excluded.saved_at`),
		name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	insert := s.bind(`INSERT INTO dataset_arrays(dataset, variable, period, labels, payload) VALUES(?, ?, ?, ?, ?)`)
	for _, e := range data.Entries() {
		payload, err := e.EncodePayload()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, name, e.Variable, e.Period, e.IsLabels(), payload); err != nil {
			return fmt.Errorf("insert %s@%s: %w", e.Variable, e.Period, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT 1 FROM datasets WHERE name = ?`), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.NotFoundError{Name: name}
	}
	return err
}

func (s *Store) Load(ctx context.Context, name string) (*dataset.Data, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT variable, period, labels, payload FROM dataset_arrays WHERE dataset = ? ORDER BY variable, period, labels`), name)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	var entries []dataset.Entry
	for rows.Next() {
		var (
			variable, period string
			labels           bool
			payload          []byte
		)
		if err := rows.Scan(&variable, &period, &labels, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e, err := dataset.DecodeEntry(variable, period, labels, payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dataset.FromEntries(entries), nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM dataset_arrays WHERE dataset = ?`), name); err != nil {
		return fmt.Errorf("delete arrays of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, s.bind(`DELETE FROM datasets WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dataset.NotFoundError{Name: name}
	}
	return tx.Commit()
}

var _ dataset.Store = (*Store)(nil)
