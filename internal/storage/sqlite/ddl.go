package sqlite

import (
	"context"
	"fmt"
	"strings"

	"catalogimport/internal/storage"
)

// schemaStatements returns the idempotent DDL for both tables. SQLite takes
// the schema on the index name, never on the indexed table.
func schemaStatements(cfg storage.Config) []string {
	products := dialect.QualifiedName(cfg.ProductsTable)
	uploads := dialect.QualifiedName(cfg.UploadsTable)

	schema, base := splitName(cfg.UploadsTable)
	idx := ident(base + "_status_created_idx")
	if schema != "" {
		idx = ident(schema) + "." + idx
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"id"                     INTEGER PRIMARY KEY AUTOINCREMENT,
	"unique_key"             TEXT NOT NULL UNIQUE,
	"product_title"          TEXT,
	"product_description"    TEXT,
	"style_number"           TEXT,
	"sanmar_mainframe_color" TEXT,
	"size"                   TEXT,
	"color_name"             TEXT,
	"piece_price"            REAL
)`, products),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"id"         TEXT PRIMARY KEY,
	"file_name"  TEXT NOT NULL,
	"file_path"  TEXT NOT NULL,
	"status"     TEXT NOT NULL,
	"checksum"   TEXT,
	"created_at" INTEGER NOT NULL,
	"updated_at" INTEGER NOT NULL
)`, uploads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("status", "created_at")`, idx, ident(base)),
	}
}

// EnsureSchema applies schemaStatements through repo.Exec.
func EnsureSchema(ctx context.Context, repo storage.Repository, cfg storage.Config) error {
	for _, stmt := range schemaStatements(cfg) {
		if err := repo.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func splitName(name string) (schema, base string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
