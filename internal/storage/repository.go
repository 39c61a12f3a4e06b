// Package storage defines the backend-agnostic persistence API for products
// and upload records, plus a small factory that backends register with at
// init time.
//
// Callers obtain a Repository via New(ctx, Config{Kind: ...}) and never import
// a concrete backend; importing catalogimport/internal/storage/all wires them
// all in.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"catalogimport/internal/model"
)

// ProductRepository is the upsert target.
type ProductRepository interface {
	// UpsertProduct inserts p or fully replaces the row with the same
	// UniqueKey in one atomic statement. Failures are *WriteError.
	UpsertProduct(ctx context.Context, p model.Product) error

	// GetProduct returns ErrNotFound when key is unknown.
	GetProduct(ctx context.Context, key string) (model.Product, error)

	CountProducts(ctx context.Context) (int64, error)
}

// UploadRepository persists upload jobs and their status transitions.
type UploadRepository interface {
	// CreateUpload inserts a new job. A repeated ID wraps ErrDuplicate.
	CreateUpload(ctx context.Context, job model.UploadJob) error

	// GetUpload returns ErrNotFound when id is unknown.
	GetUpload(ctx context.Context, id string) (model.UploadJob, error)

	// TransitionUpload moves the job to `to` only if its current status is
	// in model.AllowedFrom(to). The check and the write are one conditional
	// UPDATE. It returns ErrNotFound or a *TransitionError otherwise.
	TransitionUpload(ctx context.Context, id string, to model.Status) error

	// ListUploads returns up to limit jobs, newest first.
	ListUploads(ctx context.Context, limit int) ([]model.UploadJob, error)

	// ListUploadsByStatus returns up to limit jobs in status, oldest first.
	ListUploadsByStatus(ctx context.Context, status model.Status, limit int) ([]model.UploadJob, error)
}

// Repository is what every backend provides.
type Repository interface {
	ProductRepository
	UploadRepository

	// Exec runs a statement, typically DDL.
	Exec(ctx context.Context, sql string) error

	// Close releases the connection pool.
	Close()
}

// Config is the backend-independent connection configuration.
type Config struct {
	// Kind selects the backend: "postgres", "sqlite", "mssql", "mysql".
	Kind string

	DSN string

	// ProductsTable and UploadsTable may be schema-qualified.
	ProductsTable string
	UploadsTable  string
}

// WithDefaults fills empty table names.
func (c Config) WithDefaults() Config {
	if c.ProductsTable == "" {
		c.ProductsTable = "products"
	}
	if c.UploadsTable == "" {
		c.UploadsTable = "file_uploads"
	}
	return c
}

// List limits applied by ClampLimit.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ClampLimit maps non-positive limits to DefaultListLimit and caps the rest
// at MaxListLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

// Factory opens a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.Kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return f(ctx, cfg.WithDefaults())
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
