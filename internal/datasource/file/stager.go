package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"catalogimport/internal/logging"
	"catalogimport/internal/model"
	"catalogimport/internal/storage"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Staging rejection reasons carried by StagingError.
const (
	ReasonMissing   = "missing"
	ReasonNotFile   = "not_regular_file"
	ReasonExtension = "extension"
	ReasonTooLarge  = "too_large"
	ReasonCopy      = "copy"
	ReasonRecord    = "record"
)

// StagingError rejects a file before any upload job exists.
type StagingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *StagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Path, e.Reason)
}

func (e *StagingError) Unwrap() error { return e.Err }

// StagerConfig controls where and what the Stager accepts.
type StagerConfig struct {
	Dir string

	// MaxBytes caps the staged size; 0 disables the check.
	MaxBytes int64

	// AllowedExt lists accepted extensions including the dot, compared
	// case-insensitively. Empty accepts any extension.
	AllowedExt []string
}

// Stager copies incoming files into the staging directory and records a
// pending upload job for each.
type Stager struct {
	cfg     StagerConfig
	uploads storage.UploadRepository
	log     *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewStager returns a Stager writing into cfg.Dir and recording jobs in uploads.
func NewStager(cfg StagerConfig, uploads storage.UploadRepository, logger *slog.Logger) *Stager {
	return &Stager{
		cfg:     cfg,
		uploads: uploads,
		log:     logging.OrDiscard(logger),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Stage validates src, copies it into the staging directory as
// "<unix>_<basename>" while hashing it, and creates a pending UploadJob.
// On any failure it returns a *StagingError, no job exists and no partial
// copy is left behind.
func (s *Stager) Stage(ctx context.Context, src string) (model.UploadJob, error) {
	base := filepath.Base(src)

	fi, err := os.Stat(src)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return model.UploadJob{}, &StagingError{Path: src, Reason: ReasonMissing, Err: err}
	case err != nil:
		return model.UploadJob{}, &StagingError{Path: src, Reason: ReasonCopy, Err: err}
	case !fi.Mode().IsRegular():
		return model.UploadJob{}, &StagingError{Path: src, Reason: ReasonNotFile}
	}
	if !s.extensionAllowed(base) {
		return model.UploadJob{}, &StagingError{
			Path:   src,
			Reason: ReasonExtension,
			Err:    fmt.Errorf("%q not in %v", filepath.Ext(base), s.cfg.AllowedExt),
		}
	}
	if s.cfg.MaxBytes > 0 && fi.Size() > s.cfg.MaxBytes {
		return model.UploadJob{}, &StagingError{
			Path:   src,
			Reason: ReasonTooLarge,
			Err:    fmt.Errorf("%d bytes exceeds limit of %d", fi.Size(), s.cfg.MaxBytes),
		}
	}

	in, err := Open(ctx, src)
	if err != nil {
		return model.UploadJob{}, &StagingError{Path: src, Reason: ReasonCopy, Err: err}
	}
	defer in.Close()

	now := s.now().UTC()
	dest, sum, err := s.copyIn(now, base, in)
	if err != nil {
		return model.UploadJob{}, err
	}

	job := model.UploadJob{
		ID:        s.newID(),
		FileName:  filepath.Base(dest),
		Path:      dest,
		Status:    model.StatusPending,
		Checksum:  sum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.uploads.CreateUpload(ctx, job); err != nil {
		_ = os.Remove(dest)
		return model.UploadJob{}, &StagingError{Path: src, Reason: ReasonRecord, Err: err}
	}

	s.log.Info("file staged",
		slog.String("job_id", job.ID),
		slog.String("file", job.FileName),
		slog.Int64("bytes", fi.Size()),
		slog.String("checksum", sum),
	)
	return job, nil
}

// copyIn writes r into the staging directory and returns the destination and
// the xxh3-64 hex digest of the bytes written.
func (s *Stager) copyIn(now time.Time, base string, r io.Reader) (string, string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", "", &StagingError{Path: base, Reason: ReasonCopy, Err: err}
	}

	name := fmt.Sprintf("%d_%s", now.Unix(), base)
	dest := filepath.Join(s.cfg.Dir, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// Same second, same name: disambiguate.
		name = fmt.Sprintf("%d_%s_%s", now.Unix(), s.newID()[:8], base)
		dest = filepath.Join(s.cfg.Dir, name)
		out, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", "", &StagingError{Path: base, Reason: ReasonCopy, Err: err}
	}

	fail := func(reason string, err error) (string, string, error) {
		out.Close()
		_ = os.Remove(dest)
		return "", "", &StagingError{Path: base, Reason: reason, Err: err}
	}

	h := xxh3.New()
	src := r
	if s.cfg.MaxBytes > 0 {
		// The file may have grown since Stat.
		src = io.LimitReader(r, s.cfg.MaxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(out, h), src)
	if err != nil {
		return fail(ReasonCopy, err)
	}
	if s.cfg.MaxBytes > 0 && n > s.cfg.MaxBytes {
		return fail(ReasonTooLarge, fmt.Errorf("more than %d bytes", s.cfg.MaxBytes))
	}
	if err := out.Sync(); err != nil {
		return fail(ReasonCopy, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return "", "", &StagingError{Path: base, Reason: ReasonCopy, Err: err}
	}
	return dest, fmt.Sprintf("%016x", h.Sum64()), nil
}

func (s *Stager) extensionAllowed(name string) bool {
	if len(s.cfg.AllowedExt) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range s.cfg.AllowedExt {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}
