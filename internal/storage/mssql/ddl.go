package mssql

import (
	"context"
	"fmt"
	"strings"

	"catalogimport/internal/storage"
)

// schemaStatements returns guarded CREATE statements; SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func schemaStatements(cfg storage.Config) []string {
	products := dialect.QualifiedName(cfg.ProductsTable)
	uploads := dialect.QualifiedName(cfg.UploadsTable)
	return []string{
		fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	[id]                     BIGINT IDENTITY(1,1) PRIMARY KEY,
	[unique_key]             NVARCHAR(450) COLLATE Latin1_General_BIN2 NOT NULL,
	[product_title]          NVARCHAR(MAX) NULL,
	[product_description]    NVARCHAR(MAX) NULL,
	[style_number]           NVARCHAR(MAX) NULL,
	[sanmar_mainframe_color] NVARCHAR(MAX) NULL,
	[size]                   NVARCHAR(MAX) NULL,
	[color_name]             NVARCHAR(MAX) NULL,
	[piece_price]            FLOAT NULL,
	CONSTRAINT %s UNIQUE ([unique_key])
)`, sqlLiteral(products), products, msIdent("uq_"+lastPart(cfg.ProductsTable)+"_unique_key")),
		fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	[id]         NVARCHAR(64) NOT NULL PRIMARY KEY,
	[file_name]  NVARCHAR(512) NOT NULL,
	[file_path]  NVARCHAR(1024) NOT NULL,
	[status]     NVARCHAR(16) NOT NULL,
	[checksum]   NVARCHAR(64) NULL,
	[created_at] BIGINT NOT NULL,
	[updated_at] BIGINT NOT NULL,
	INDEX %s ([status], [created_at])
)`, sqlLiteral(uploads), uploads, msIdent("ix_"+lastPart(cfg.UploadsTable)+"_status_created")),
	}
}

// EnsureSchema applies schemaStatements through repo.Exec.
func EnsureSchema(ctx context.Context, repo storage.Repository, cfg storage.Config) error {
	for _, stmt := range schemaStatements(cfg) {
		if err := repo.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: ensure schema: %w", err)
		}
	}
	return nil
}

func sqlLiteral(s string) string { return strings.ReplaceAll(s, "'", "''") }

func lastPart(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
