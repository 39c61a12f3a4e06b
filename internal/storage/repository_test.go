package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"catalogimport/internal/model"
)

// fakeRepo is a minimal Repository implementation for tests.
type fakeRepo struct {
	Repository
	cfg    Config
	closed bool
	execs  []string
}

func (f *fakeRepo) Close() { f.closed = true }

func (f *fakeRepo) Exec(ctx context.Context, sql string) error {
	f.execs = append(f.execs, sql)
	return nil
}

// TestRegisterAndNew_Success verifies that registering a backend enables New()
// to return the corresponding repository with defaulted table names.
func TestRegisterAndNew_Success(t *testing.T) {
	kind := "fake-new"
	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		return &fakeRepo{cfg: cfg}, nil
	})

	repo, err := New(context.Background(), Config{Kind: kind, DSN: "x"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	f := repo.(*fakeRepo)
	if f.cfg.ProductsTable != "products" || f.cfg.UploadsTable != "file_uploads" {
		t.Errorf("cfg tables = %q, %q", f.cfg.ProductsTable, f.cfg.UploadsTable)
	}

	found := false
	for _, k := range Kinds() {
		if k == kind {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("registered kind %q not present in Kinds: %v", kind, Kinds())
	}
}

// TestNew_Unsupported verifies that unsupported kinds return ErrUnknownKind.
func TestNew_Unsupported(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	kind := "fake-ddl"
	var gotCfg Config
	RegisterDDL(kind, func(ctx context.Context, repo Repository, cfg Config) error {
		gotCfg = cfg
		return repo.Exec(ctx, "CREATE TABLE x (id INT)")
	})

	repo := &fakeRepo{}
	if err := EnsureSchema(context.Background(), Config{Kind: kind}, repo); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(repo.execs) != 1 {
		t.Errorf("execs = %v", repo.execs)
	}
	if gotCfg.UploadsTable != "file_uploads" {
		t.Errorf("bootstrapper cfg not defaulted: %+v", gotCfg)
	}

	if err := EnsureSchema(context.Background(), Config{Kind: "no-ddl"}, repo); err == nil {
		t.Fatal("EnsureSchema for unknown kind: want error")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-5: DefaultListLimit, 0: DefaultListLimit, 1: 1, 250: 250, MaxListLimit + 1: MaxListLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTransitionErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("run: %w", &TransitionError{ID: "j1", From: model.StatusCompleted, To: model.StatusProcessing})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("errors.Is(TransitionError, ErrInvalidTransition) = false")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("TransitionError matched ErrNotFound")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != model.StatusCompleted {
		t.Fatalf("errors.As = %+v", te)
	}
}

func TestWriteErrorUnwraps(t *testing.T) {
	cause := errors.New("deadlock")
	err := error(&WriteError{Key: "SKU1", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("WriteError does not unwrap to its cause")
	}
	if got := err.Error(); got != `upsert "SKU1": deadlock` {
		t.Errorf("Error() = %q", got)
	}
}
