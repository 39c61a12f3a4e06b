package postgres

import (
	"context"

	"catalogimport/internal/storage"
)

// newRepository is swapped by tests that exercise registration without a
// live postgres server.
var newRepository = NewRepository

// wrappedRepo owns the pool: Close releases it.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Usage from a caller that only knows the kind:
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "postgres", DSN: dsn})
//	defer repo.Close()
//	err = storage.EnsureSchema(ctx, cfg, repo)
func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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

	storage.RegisterDDL("postgres", EnsureSchema)
}
