// Package storagetest is a conformance suite shared by the storage backend
// tests. Each backend runs it against a freshly provisioned Repository.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"catalogimport/internal/model"
	"catalogimport/internal/storage"
)

// NewRepo returns an empty, schema-ready repository. The suite closes it.
type NewRepo func(t *testing.T) storage.Repository

// Run executes every conformance check as a subtest.
func Run(t *testing.T, newRepo NewRepo) {
	t.Helper()
	checks := []struct {
		name string
		fn   func(*testing.T, storage.Repository)
	}{
		{"UpsertInsertsThenReplaces", testUpsertReplaces},
		{"UpsertIsIdempotent", testUpsertIdempotent},
		{"UpsertKeysAreCaseSensitive", testUpsertCaseSensitive},
		{"GetProductNotFound", testGetProductNotFound},
		{"CreateAndGetUpload", testCreateAndGetUpload},
		{"CreateDuplicateUpload", testCreateDuplicate},
		{"GetUploadNotFound", testGetUploadNotFound},
		{"TransitionLifecycle", testTransitionLifecycle},
		{"TransitionIllegal", testTransitionIllegal},
		{"TransitionNotFound", testTransitionNotFound},
		{"ListUploadsOrder", testListUploadsOrder},
		{"ListUploadsByStatus", testListUploadsByStatus},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			repo := newRepo(t)
			defer repo.Close()
			c.fn(t, repo)
		})
	}
}

func str(s string) *string     { return &s }
func price(f float64) *float64 { return &f }

func mustUpsert(t *testing.T, repo storage.Repository, p model.Product) {
	t.Helper()
	if err := repo.UpsertProduct(context.Background(), p); err != nil {
		t.Fatalf("UpsertProduct(%q): %v", p.UniqueKey, err)
	}
}

func mustCreate(t *testing.T, repo storage.Repository, job model.UploadJob) {
	t.Helper()
	if err := repo.CreateUpload(context.Background(), job); err != nil {
		t.Fatalf("CreateUpload(%q): %v", job.ID, err)
	}
}

func pending(id string, created time.Time) model.UploadJob {
	return model.UploadJob{
		ID:        id,
		FileName:  id + ".csv",
		Path:      "/tmp/" + id + ".csv",
		Status:    model.StatusPending,
		Checksum:  "abc123",
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func testUpsertReplaces(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	mustUpsert(t, repo, model.Product{
		UniqueKey:  "SKU1",
		Title:      str("Tee"),
		ColorName:  str("Red"),
		PiecePrice: price(9.99),
	})
	mustUpsert(t, repo, model.Product{
		UniqueKey: "SKU1",
		Title:     str("Tee v2"),
		Size:      str("XL"),
	})

	got, err := repo.GetProduct(ctx, "SKU1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Title == nil || *got.Title != "Tee v2" {
		t.Errorf("Title = %v, want Tee v2", got.Title)
	}
	if got.Size == nil || *got.Size != "XL" {
		t.Errorf("Size = %v, want XL", got.Size)
	}
	// Full replace: fields absent from the second write are cleared.
	if got.ColorName != nil {
		t.Errorf("ColorName = %q, want nil", *got.ColorName)
	}
	if got.PiecePrice != nil {
		t.Errorf("PiecePrice = %v, want nil", *got.PiecePrice)
	}
	if n, err := repo.CountProducts(ctx); err != nil || n != 1 {
		t.Fatalf("CountProducts = %d, %v; want 1", n, err)
	}
}

func testUpsertIdempotent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	p := model.Product{
		UniqueKey:      "SKU-9",
		Title:          str("Hoodie"),
		Description:    str("Warm"),
		StyleNumber:    str("ST9"),
		MainframeColor: str("BLK"),
		Size:           str("M"),
		ColorName:      str("Black"),
		PiecePrice:     price(1234.5),
	}
	for i := 0; i < 3; i++ {
		mustUpsert(t, repo, p)
	}
	got, err := repo.GetProduct(ctx, "SKU-9")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if *got.Description != "Warm" || *got.StyleNumber != "ST9" || *got.MainframeColor != "BLK" {
		t.Errorf("got %+v", got)
	}
	if got.PiecePrice == nil || *got.PiecePrice != 1234.5 {
		t.Errorf("PiecePrice = %v, want 1234.5", got.PiecePrice)
	}
	if n, _ := repo.CountProducts(ctx); n != 1 {
		t.Errorf("CountProducts = %d, want 1", n)
	}
}

func testUpsertCaseSensitive(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	mustUpsert(t, repo, model.Product{UniqueKey: "SKU1", Title: str("upper")})
	mustUpsert(t, repo, model.Product{UniqueKey: "sku1", Title: str("lower")})

	if n, err := repo.CountProducts(ctx); err != nil || n != 2 {
		t.Fatalf("CountProducts = %d, %v; want 2", n, err)
	}
	got, err := repo.GetProduct(ctx, "SKU1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.Title == nil || *got.Title != "upper" {
		t.Errorf("Title = %v, want upper", got.Title)
	}
}

func testGetProductNotFound(t *testing.T, repo storage.Repository) {
	_, err := repo.GetProduct(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testCreateAndGetUpload(t *testing.T, repo storage.Repository) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, repo, pending("u1", created))

	got, err := repo.GetUpload(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.Status != model.StatusPending || got.FileName != "u1.csv" || got.Path != "/tmp/u1.csv" {
		t.Errorf("got %+v", got)
	}
	if got.Checksum != "abc123" {
		t.Errorf("Checksum = %q", got.Checksum)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func testCreateDuplicate(t *testing.T, repo storage.Repository) {
	job := pending("dup", time.Now())
	mustCreate(t, repo, job)
	err := repo.CreateUpload(context.Background(), job)
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func testGetUploadNotFound(t *testing.T, repo storage.Repository) {
	_, err := repo.GetUpload(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testTransitionLifecycle(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	created := time.Now().Add(-time.Hour).UTC()
	mustCreate(t, repo, pending("life", created))

	if err := repo.TransitionUpload(ctx, "life", model.StatusProcessing); err != nil {
		t.Fatalf("TransitionUpload(processing): %v", err)
	}
	// Entering processing is a claim; a second claim must lose.
	err := repo.TransitionUpload(ctx, "life", model.StatusProcessing)
	var te *storage.TransitionError
	if !errors.As(err, &te) || te.From != model.StatusProcessing {
		t.Fatalf("second claim: err = %v, want TransitionError from processing", err)
	}
	if err := repo.TransitionUpload(ctx, "life", model.StatusCompleted); err != nil {
		t.Fatalf("TransitionUpload(completed): %v", err)
	}
	got, err := repo.GetUpload(ctx, "life")
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func testTransitionIllegal(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	mustCreate(t, repo, pending("ill", time.Now()))

	// pending -> completed skips processing.
	err := repo.TransitionUpload(ctx, "ill", model.StatusCompleted)
	var te *storage.TransitionError
	if !errors.As(err, &te) || !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("err = %v, want *TransitionError", err)
	}
	if te.From != model.StatusPending || te.To != model.StatusCompleted {
		t.Errorf("TransitionError = %+v", te)
	}

	if err := repo.TransitionUpload(ctx, "ill", model.StatusFailed); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	// Terminal states are final.
	for _, to := range []model.Status{model.StatusProcessing, model.StatusCompleted, model.StatusPending} {
		if err := repo.TransitionUpload(ctx, "ill", to); !errors.Is(err, storage.ErrInvalidTransition) {
			t.Errorf("failed -> %s: err = %v, want ErrInvalidTransition", to, err)
		}
	}
	got, _ := repo.GetUpload(ctx, "ill")
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
}

func testTransitionNotFound(t *testing.T, repo storage.Repository) {
	err := repo.TransitionUpload(context.Background(), "ghost", model.StatusProcessing)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testListUploadsOrder(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mustCreate(t, repo, pending(fmt.Sprintf("j%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := repo.ListUploads(ctx, 3)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	want := []string{"j4", "j3", "j2"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	all, err := repo.ListUploads(ctx, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("ListUploads(0) = %d, %v; want 5", len(all), err)
	}
}

func testListUploadsByStatus(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		mustCreate(t, repo, pending(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	if err := repo.TransitionUpload(ctx, "s1", model.StatusProcessing); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListUploadsByStatus(ctx, model.StatusPending, 10)
	if err != nil {
		t.Fatalf("ListUploadsByStatus: %v", err)
	}
	want := []string{"s0", "s2", "s3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}
