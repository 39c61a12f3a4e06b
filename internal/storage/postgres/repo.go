// Package postgres implements storage.Repository on PostgreSQL using pgx v5.
// Products are upserted with INSERT ... ON CONFLICT and status transitions
// are a single conditional UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogimport/internal/model"
	"catalogimport/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var uploadColumns = []string{"id", "file_name", "file_path", "status", "checksum", "created_at", "updated_at"}

// Config holds Postgres repository configuration.
type Config struct {
	DSN           string // connection string for pgxpool
	ProductsTable string // e.g. "public.products"
	UploadsTable  string
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config

	products  string
	uploads   string
	upsertSQL string
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	close := func() { pool.Close() }
	return newRepo(pool, cfg), close, nil
}

func newRepo(pool *pgxpool.Pool, cfg Config) *Repository {
	r := &Repository{
		pool:     pool,
		cfg:      cfg,
		products: pgFQN(cfg.ProductsTable),
		uploads:  pgFQN(cfg.UploadsTable),
	}
	r.upsertSQL = upsertStatement(r.products, model.ProductColumns)
	return r
}

// upsertStatement renders the single-statement upsert keyed on cols[0].
func upsertStatement(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(mapIdent(cols), ", "),
		strings.Join(ph, ", "),
		pgIdent(cols[0]),
		strings.Join(updateColumns(cols[1:]), ", "),
	)
}

// updateColumns generates a list of column updates in the format: "col = EXCLUDED.col"
func updateColumns(cols []string) []string {
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(col), pgIdent(col)))
	}
	return updates
}

// UpsertProduct implements storage.ProductRepository.
func (r *Repository) UpsertProduct(ctx context.Context, p model.Product) error {
	if _, err := r.pool.Exec(ctx, r.upsertSQL, p.Values()...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			err = fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
		}
		return &storage.WriteError{Key: p.UniqueKey, Err: fmt.Errorf("postgres: %w", err)}
	}
	return nil
}

// GetProduct implements storage.ProductRepository.
func (r *Repository) GetProduct(ctx context.Context, key string) (model.Product, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(mapIdent(model.ProductColumns), ", "), r.products, pgIdent("unique_key"))

	var p model.Product
	err := r.pool.QueryRow(ctx, q, key).Scan(
		&p.UniqueKey, &p.Title, &p.Description, &p.StyleNumber,
		&p.MainframeColor, &p.Size, &p.ColorName, &p.PiecePrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Product{}, fmt.Errorf("product %q: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("postgres: get product: %w", err)
	}
	return p, nil
}

// CountProducts implements storage.ProductRepository.
func (r *Repository) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+r.products).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count products: %w", err)
	}
	return n, nil
}

// CreateUpload implements storage.UploadRepository.
func (r *Repository) CreateUpload(ctx context.Context, job model.UploadJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		r.uploads, strings.Join(mapIdent(uploadColumns), ", "))

	_, err := r.pool.Exec(ctx, q,
		job.ID, job.FileName, job.Path, string(job.Status), job.Checksum,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("upload %s: %w", job.ID, storage.ErrDuplicate)
		}
		return fmt.Errorf("postgres: create upload: %w", err)
	}
	return nil
}

// GetUpload implements storage.UploadRepository.
func (r *Repository) GetUpload(ctx context.Context, id string) (model.UploadJob, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(mapIdent(uploadColumns), ", "), r.uploads, pgIdent("id"))

	job, err := scanUpload(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UploadJob{}, fmt.Errorf("upload %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return model.UploadJob{}, fmt.Errorf("postgres: get upload: %w", err)
	}
	return job, nil
}

// TransitionUpload implements storage.UploadRepository. The allowed source
// statuses are passed as a text[] to = ANY($4).
func (r *Repository) TransitionUpload(ctx context.Context, id string, to model.Status) error {
	from := model.AllowedFrom(to)
	if len(from) == 0 {
		return &storage.TransitionError{ID: id, To: to}
	}
	allowed := make([]string, len(from))
	for i, f := range from {
		allowed[i] = string(f)
	}

	q := fmt.Sprintf("UPDATE %s SET %s = $1, %s = $2 WHERE %s = $3 AND %s = ANY($4)",
		r.uploads, pgIdent("status"), pgIdent("updated_at"), pgIdent("id"), pgIdent("status"))
	tag, err := r.pool.Exec(ctx, q, string(to), time.Now().UTC(), id, allowed)
	if err != nil {
		return fmt.Errorf("postgres: transition upload %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	cur, err := r.GetUpload(ctx, id)
	if err != nil {
		return err
	}
	return &storage.TransitionError{ID: id, From: cur.Status, To: to}
}

// ListUploads implements storage.UploadRepository.
func (r *Repository) ListUploads(ctx context.Context, limit int) ([]model.UploadJob, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC, %s DESC LIMIT $1",
		strings.Join(mapIdent(uploadColumns), ", "), r.uploads, pgIdent("created_at"), pgIdent("id"))
	return r.queryUploads(ctx, q, storage.ClampLimit(limit))
}

// ListUploadsByStatus implements storage.UploadRepository.
func (r *Repository) ListUploadsByStatus(ctx context.Context, status model.Status, limit int) ([]model.UploadJob, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s ASC, %s ASC LIMIT $2",
		strings.Join(mapIdent(uploadColumns), ", "), r.uploads,
		pgIdent("status"), pgIdent("created_at"), pgIdent("id"))
	return r.queryUploads(ctx, q, string(status), storage.ClampLimit(limit))
}

func (r *Repository) queryUploads(ctx context.Context, q string, args ...any) ([]model.UploadJob, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list uploads: %w", err)
	}
	defer rows.Close()

	var out []model.UploadJob
	for rows.Next() {
		job, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan upload: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list uploads: %w", err)
	}
	return out, nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return err
}

func scanUpload(row pgx.Row) (model.UploadJob, error) {
	var (
		job      model.UploadJob
		status   string
		checksum *string
	)
	if err := row.Scan(&job.ID, &job.FileName, &job.Path, &status, &checksum, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return model.UploadJob{}, err
	}
	job.Status = model.Status(status)
	if checksum != nil {
		job.Checksum = *checksum
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.products" to
// "public"."products". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
