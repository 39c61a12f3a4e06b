// Package sqlite implements storage.Repository on SQLite through the pure-Go
// modernc.org/sqlite driver. It is the default backend for local runs and the
// backend the test suites run against.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogimport/internal/storage/sqlstore"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:catalog.db"
	//   ":memory:"
	DSN string

	ProductsTable string
	UploadsTable  string
}

// Repository is a SQLite-backed storage.Repository (Close comes from the
// adapter).
type Repository struct {
	*sqlstore.Store
	cfg Config
}

// dialect is SQLite's flavour of the shared SQL.
var dialect = sqlstore.Dialect{
	Name:  "sqlite",
	Bind:  sqlstore.QuestionBind,
	Ident: ident,
	Upsert: func(table string, cols []string) string {
		return sqlstore.OnConflictUpsert(ident, table, cols, sqlstore.Placeholders(sqlstore.QuestionBind, len(cols)))
	},
	Limit:       sqlstore.LimitN,
	IsDuplicate: isConstraintViolation,
}

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
//
// The pool is capped at one connection: SQLite serializes writers anyway,
// and a single connection keeps ":memory:" databases coherent.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	closeFn := func() { db.Close() }
	return &Repository{
		Store: sqlstore.New(db, dialect, cfg.ProductsTable, cfg.UploadsTable),
		cfg:   cfg,
	}, closeFn, nil
}

// ident quotes a SQLite identifier with double quotes.
func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// isConstraintViolation reports a SQLITE_CONSTRAINT result, primary or
// extended.
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
