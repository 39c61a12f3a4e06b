package postgres

import (
	"context"
	"fmt"
	"strings"

	"catalogimport/internal/storage"
)

// schemaStatements returns idempotent CREATE statements for both tables.
func schemaStatements(cfg storage.Config) []string {
	products := pgFQN(cfg.ProductsTable)
	uploads := pgFQN(cfg.UploadsTable)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"id"                     BIGSERIAL PRIMARY KEY,
	"unique_key"             TEXT NOT NULL,
	"product_title"          TEXT,
	"product_description"    TEXT,
	"style_number"           TEXT,
	"sanmar_mainframe_color" TEXT,
	"size"                   TEXT,
	"color_name"             TEXT,
	"piece_price"            DOUBLE PRECISION,
	CONSTRAINT %s UNIQUE ("unique_key")
)`, products, pgIdent(lastPart(cfg.ProductsTable)+"_unique_key_key")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"id"         TEXT PRIMARY KEY,
	"file_name"  TEXT NOT NULL,
	"file_path"  TEXT NOT NULL,
	"status"     TEXT NOT NULL,
	"checksum"   TEXT,
	"created_at" TIMESTAMPTZ NOT NULL,
	"updated_at" TIMESTAMPTZ NOT NULL
)`, uploads),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("status", "created_at")`,
			pgIdent(lastPart(cfg.UploadsTable)+"_status_created_idx"), uploads),
	}
}

// EnsureSchema applies schemaStatements through repo.Exec.
func EnsureSchema(ctx context.Context, repo storage.Repository, cfg storage.Config) error {
	for _, stmt := range schemaStatements(cfg) {
		if err := repo.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func lastPart(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
