package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogimport/internal/model"
	"catalogimport/internal/storage"
)

// uploadColumns is the column order used for every uploads query.
var uploadColumns = []string{"id", "file_name", "file_path", "status", "checksum", "created_at", "updated_at"}

// Store implements storage.Repository (minus Close) over database/sql.
// Timestamps are stored as BIGINT Unix nanoseconds in UTC.
type Store struct {
	db       *sql.DB
	d        Dialect
	products string // quoted
	uploads  string // quoted

	upsertSQL string
	now       func() time.Time
}

// New builds a Store over db. Table names may be schema-qualified.
func New(db *sql.DB, d Dialect, productsTable, uploadsTable string) *Store {
	s := &Store{
		db:       db,
		d:        d,
		products: d.QualifiedName(productsTable),
		uploads:  d.QualifiedName(uploadsTable),
		now:      time.Now,
	}
	s.upsertSQL = d.Upsert(s.products, model.ProductColumns)
	return s
}

// DB exposes the handle for backend-specific statements.
func (s *Store) DB() *sql.DB { return s.db }

// UpsertProduct implements storage.ProductRepository.
func (s *Store) UpsertProduct(ctx context.Context, p model.Product) error {
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, p.Values()...); err != nil {
		return &storage.WriteError{Key: p.UniqueKey, Err: fmt.Errorf("%s: %w", s.d.Name, err)}
	}
	return nil
}

// GetProduct implements storage.ProductRepository.
func (s *Store) GetProduct(ctx context.Context, key string) (model.Product, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.d.idents(model.ProductColumns), s.products, s.d.Ident("unique_key"), s.d.Bind(1))

	var p model.Product
	err := s.db.QueryRowContext(ctx, q, key).Scan(
		&p.UniqueKey, &p.Title, &p.Description, &p.StyleNumber,
		&p.MainframeColor, &p.Size, &p.ColorName, &p.PiecePrice,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, fmt.Errorf("product %q: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("%s: get product: %w", s.d.Name, err)
	}
	return p, nil
}

// CountProducts implements storage.ProductRepository.
func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.products).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count products: %w", s.d.Name, err)
	}
	return n, nil
}

// CreateUpload implements storage.UploadRepository. Zero timestamps are
// filled with the current time.
func (s *Store) CreateUpload(ctx context.Context, job model.UploadJob) error {
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.uploads, s.d.idents(uploadColumns), s.d.binds(1, len(uploadColumns)))

	_, err := s.db.ExecContext(ctx, q,
		job.ID, job.FileName, job.Path, string(job.Status), job.Checksum,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if s.d.IsDuplicate != nil && s.d.IsDuplicate(err) {
			return fmt.Errorf("upload %s: %w", job.ID, storage.ErrDuplicate)
		}
		return fmt.Errorf("%s: create upload: %w", s.d.Name, err)
	}
	return nil
}

// GetUpload implements storage.UploadRepository.
func (s *Store) GetUpload(ctx context.Context, id string) (model.UploadJob, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.d.idents(uploadColumns), s.uploads, s.d.Ident("id"), s.d.Bind(1))

	job, err := scanUpload(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UploadJob{}, fmt.Errorf("upload %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return model.UploadJob{}, fmt.Errorf("%s: get upload: %w", s.d.Name, err)
	}
	return job, nil
}

// TransitionUpload implements storage.UploadRepository with a conditional
// UPDATE; the WHERE clause lists the statuses `to` may be entered from.
func (s *Store) TransitionUpload(ctx context.Context, id string, to model.Status) error {
	from := model.AllowedFrom(to)
	if len(from) == 0 {
		return &storage.TransitionError{ID: id, To: to}
	}

	args := []any{string(to), s.now().UTC().UnixNano(), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	q := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %s AND %s IN (%s)",
		s.uploads,
		s.d.Ident("status"), s.d.Bind(1),
		s.d.Ident("updated_at"), s.d.Bind(2),
		s.d.Ident("id"), s.d.Bind(3),
		s.d.Ident("status"), s.d.binds(4, len(from)),
	)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: transition upload %s to %s: %w", s.d.Name, id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", s.d.Name, err)
	}
	if n > 0 {
		return nil
	}

	cur, err := s.GetUpload(ctx, id)
	if err != nil {
		return err
	}
	return &storage.TransitionError{ID: id, From: cur.Status, To: to}
}

// ListUploads implements storage.UploadRepository.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]model.UploadJob, error) {
	limit = storage.ClampLimit(limit)
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC, %s DESC %s",
		s.d.idents(uploadColumns), s.uploads,
		s.d.Ident("created_at"), s.d.Ident("id"), s.d.Limit(limit))
	return s.queryUploads(ctx, q)
}

// ListUploadsByStatus implements storage.UploadRepository.
func (s *Store) ListUploadsByStatus(ctx context.Context, status model.Status, limit int) ([]model.UploadJob, error) {
	limit = storage.ClampLimit(limit)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s ASC, %s ASC %s",
		s.d.idents(uploadColumns), s.uploads,
		s.d.Ident("status"), s.d.Bind(1),
		s.d.Ident("created_at"), s.d.Ident("id"), s.d.Limit(limit))
	return s.queryUploads(ctx, q, string(status))
}

func (s *Store) queryUploads(ctx context.Context, q string, args ...any) ([]model.UploadJob, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: list uploads: %w", s.d.Name, err)
	}
	defer rows.Close()

	var out []model.UploadJob
	for rows.Next() {
		job, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan upload: %w", s.d.Name, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: list uploads: %w", s.d.Name, err)
	}
	return out, nil
}

// Exec executes an arbitrary SQL statement (typically DDL).
func (s *Store) Exec(ctx context.Context, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("%s: exec: %w", s.d.Name, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(r rowScanner) (model.UploadJob, error) {
	var (
		job              model.UploadJob
		status           string
		checksum         sql.NullString
		created, updated int64
	)
	if err := r.Scan(&job.ID, &job.FileName, &job.Path, &status, &checksum, &created, &updated); err != nil {
		return model.UploadJob{}, err
	}
	job.Status = model.Status(status)
	job.Checksum = checksum.String
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return job, nil
}
