package mysql

import (
	"context"
	"fmt"

	"catalogimport/internal/storage"
)

// schemaStatements returns idempotent CREATE statements. unique_key is a
// VARCHAR because MySQL cannot index an unbounded TEXT column, and it is
// binary-collated so keys differing only in case stay distinct.
func schemaStatements(cfg storage.Config) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"`id` BIGINT AUTO_INCREMENT PRIMARY KEY, "+
			"`unique_key` VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL, "+
			"`product_title` TEXT NULL, "+
			"`product_description` TEXT NULL, "+
			"`style_number` TEXT NULL, "+
			"`sanmar_mainframe_color` TEXT NULL, "+
			"`size` TEXT NULL, "+
			"`color_name` TEXT NULL, "+
			"`piece_price` DOUBLE NULL, "+
			"UNIQUE KEY `uq_unique_key` (`unique_key`)"+
			") DEFAULT CHARSET=utf8mb4", dialect.QualifiedName(cfg.ProductsTable)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"`id` VARCHAR(64) NOT NULL PRIMARY KEY, "+
			"`file_name` VARCHAR(512) NOT NULL, "+
			"`file_path` VARCHAR(1024) NOT NULL, "+
			"`status` VARCHAR(16) NOT NULL, "+
			"`checksum` VARCHAR(64) NULL, "+
			"`created_at` BIGINT NOT NULL, "+
			"`updated_at` BIGINT NOT NULL, "+
			"KEY `idx_status_created` (`status`, `created_at`)"+
			") DEFAULT CHARSET=utf8mb4", dialect.QualifiedName(cfg.UploadsTable)),
	}
}

// EnsureSchema applies schemaStatements through repo.Exec.
func EnsureSchema(ctx context.Context, repo storage.Repository, cfg storage.Config) error {
	for _, stmt := range schemaStatements(cfg) {
		if err := repo.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: ensure schema: %w", err)
		}
	}
	return nil
}
