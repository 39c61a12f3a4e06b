// Package file implements the local filesystem side of ingestion: opening
// staged files for streaming and staging uploaded files into the upload
// directory.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is one staged file on local disk.
type Local struct{ path string }

// NewLocal binds a Local to path. Opening it more than once is fine.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Open returns the staged file with a sequential-read hint applied. A done
// ctx fails fast without touching the disk. Errors wrap the *PathError, so
// errors.Is(err, fs.ErrNotExist) holds for a missing file.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	adviseSequential(f)
	return f, nil
}

// Open is a convenience for NewLocal(path).Open(ctx).
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return NewLocal(path).Open(ctx)
}
