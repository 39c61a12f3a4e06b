package sqlite

import (
	"context"

	"catalogimport/internal/storage"
)

// newRepository is swapped by tests that exercise registration without
// opening a database file.
var newRepository = NewRepository

// wrappedRepo closes the database handle on Close. For a temp-file DSN the
// file itself is left to the caller.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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

	storage.RegisterDDL("sqlite", EnsureSchema)
}
