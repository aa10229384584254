// Package storage implements the persistence gateway on sqlite.
//
// All access goes through SQLiteRepository; nothing in the application touches
// a database handle directly. Dates for payment_date and billing_date are
// stored as ISO day strings so NULL cleanly means "unset".
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"commenergy/internal/core"

	_ "modernc.org/sqlite"
)

const dayFormat = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// foreign_keys is a per-connection pragma. Passing it through the DSN
	// makes the driver apply it to every connection the pool opens, not
	// just the first one.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// BeginTx opens a transaction. The billing workflow uses this to make
// aggregate-then-close a single atomic scope.
func (r *SQLiteRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// mapConstraintErr converts sqlite constraint violations into domain errors
// so callers can react without string-matching driver messages themselves.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, msg)
	}
	return err
}

func nullDay(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dayFormat), Valid: true}
}

func parseDay(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dayFormat, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored date %q: %w", s.String, err)
	}
	return &t, nil
}
