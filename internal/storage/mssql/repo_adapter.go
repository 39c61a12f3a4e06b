package mssql

import (
	"context"

	"catalogimport/internal/storage"
)

// newRepository is swapped by tests that exercise registration without a
// live mssql server.
var newRepository = NewRepository

type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

// Close releases the connection pool.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// The MERGE upsert and the IF OBJECT_ID DDL are registered under "mssql".
func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:           cfg.DSN,
			ProductsTable: cfg.ProductsTable,
			UploadsTable:  cfg.UploadsTable,
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})

	storage.RegisterDDL("mssql", EnsureSchema)
}
