// Package ingest runs one upload job end to end: it moves the job through
// its status lifecycle, streams the staged CSV through the header resolver
// and row normalizer, upserts every valid row, and removes the staged file.
//
// Row problems are never fatal. They are counted, logged with their line
// number, and the run continues. Only a failure to read the file, a
// cancelled context, or a panic fails the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"catalogimport/internal/datasource/file"
	"catalogimport/internal/logging"
	"catalogimport/internal/metrics"
	"catalogimport/internal/model"
	"catalogimport/internal/parser/csv"
	"catalogimport/internal/storage"
	"catalogimport/internal/transformer"
)

// DefaultJobName labels metrics when no job name is configured.
const DefaultJobName = "catalog_import"

// settleTimeout bounds the final status write, which runs on a context
// detached from the run's so a cancelled run can still be marked failed.
const settleTimeout = 10 * time.Second

// Opener opens a staged file for streaming.
type Opener func(ctx context.Context, path string) (io.ReadCloser, error)

// Orchestrator executes ingestion runs. It is safe for concurrent use; each
// Run keeps its own state.
type Orchestrator struct {
	uploads  storage.UploadRepository
	products storage.ProductRepository
	log      *slog.Logger

	jobName     string
	csvOpts     csv.Options
	headerMap   map[string]string
	nfc         bool
	maxWriteErr int

	open   Opener
	remove func(string) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJobName sets the metrics job label.
func WithJobName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.jobName = name
		}
	}
}

// WithCSVOptions sets delimiter, quoting and source encoding.
func WithCSVOptions(opt csv.Options) Option {
	return func(o *Orchestrator) { o.csvOpts = opt }
}

// WithHeaderMap maps alternative header spellings onto canonical names.
func WithHeaderMap(m map[string]string) Option {
	return func(o *Orchestrator) { o.headerMap = m }
}

// WithNFC enables Unicode NFC normalization of every field.
func WithNFC(on bool) Option {
	return func(o *Orchestrator) { o.nfc = on }
}

// WithMaxConsecutiveWriteFailures fails the run after n upserts in a row
// have failed. Zero keeps write failures row-scoped.
func WithMaxConsecutiveWriteFailures(n int) Option {
	return func(o *Orchestrator) { o.maxWriteErr = n }
}

// WithOpener replaces how staged files are opened.
func WithOpener(fn Opener) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.open = fn
		}
	}
}

// New returns an Orchestrator over the given stores.
func New(uploads storage.UploadRepository, products storage.ProductRepository, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		uploads:  uploads,
		products: products,
		log:      logging.OrDiscard(logger),
		jobName:  DefaultJobName,
		csvOpts:  csv.Options{LazyQuotes: true},
		open:     file.Open,
		remove:   os.Remove,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run ingests the staged file of jobID.
//
// It returns *NotFoundError (nothing touched) when the job is unknown,
// *RunError for a fatal failure (job marked failed), and *StatusError when
// the final status could not be persisted. The staged file is removed on
// every path once this run has claimed the job. A job that is not pending is
// left untouched and reported with ErrAlreadyClaimed.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (sum Summary, err error) {
	start := time.Now()
	sum = Summary{JobID: jobID}
	log := o.log.With(slog.String("job_id", jobID))

	job, err := o.uploads.GetUpload(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Error("upload record not found; aborting run")
		return sum, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return sum, &RunError{JobID: jobID, Op: "load", Err: err}
	}
	log = log.With(slog.String("file", job.FileName))

	// The conditional pending -> processing update is the claim: exactly one
	// concurrent run wins it.
	if err := o.uploads.TransitionUpload(ctx, jobID, model.StatusProcessing); err != nil {
		var te *storage.TransitionError
		if errors.As(err, &te) {
			sum.Status = te.From
			log.Warn("upload not pending; not running", slog.String("status", string(te.From)))
			return sum, &RunError{JobID: jobID, Op: "claim", Err: fmt.Errorf("%w: %w", ErrAlreadyClaimed, err)}
		}
		return sum, &StatusError{JobID: jobID, To: model.StatusProcessing, Err: err}
	}
	defer o.removeStaged(log, job.Path)
	log.Info("processing started")

	runErr := o.process(ctx, log, job, &sum)
	sum.Duration = time.Since(start)
	metrics.RecordStep(o.jobName, "run", runErr, sum.Duration)
	o.recordRows(sum)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if runErr != nil {
		sum.Status = model.StatusFailed
		log.Error("processing failed",
			slog.Any("error", runErr),
			slog.Int64("processed", sum.Processed),
			slog.Int64("skipped", sum.Skipped),
		)
		if err := o.uploads.TransitionUpload(settleCtx, jobID, model.StatusFailed); err != nil {
			log.Error("could not mark upload failed", slog.Any("error", err))
		} else {
			metrics.RecordRun(o.jobName, string(model.StatusFailed))
		}
		return sum, runErr
	}

	if err := o.uploads.TransitionUpload(settleCtx, jobID, model.StatusCompleted); err != nil {
		log.Error("could not mark upload completed", slog.Any("error", err))
		return sum, &StatusError{JobID: jobID, To: model.StatusCompleted, Err: err}
	}
	sum.Status = model.StatusCompleted
	metrics.RecordRun(o.jobName, string(model.StatusCompleted))
	log.Info("processing completed",
		slog.Int64("processed", sum.Processed),
		slog.Int64("skipped", sum.Skipped),
		slog.Duration("elapsed", sum.Duration),
	)
	return sum, nil
}

// Complete re-asserts completed for a job whose run finished but whose
// status write failed.
func (o *Orchestrator) Complete(ctx context.Context, jobID string) error {
	if err := o.uploads.TransitionUpload(ctx, jobID, model.StatusCompleted); err != nil {
		return &StatusError{JobID: jobID, To: model.StatusCompleted, Err: err}
	}
	metrics.RecordRun(o.jobName, string(model.StatusCompleted))
	o.log.Info("processing completed", slog.String("job_id", jobID))
	return nil
}

// HandleFailure is the terminal-failure handler. It marks the job failed
// unless it is already completed or failed, removes a leftover staged file,
// and logs cause. Calling it again, or after Run already failed the job, is
// a no-op.
func (o *Orchestrator) HandleFailure(ctx context.Context, jobID string, cause error) error {
	log := o.log.With(slog.String("job_id", jobID))

	job, err := o.uploads.GetUpload(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Error("failure handler: upload record not found", slog.Any("cause", cause))
		return &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return fmt.Errorf("failure handler: load %s: %w", jobID, err)
	}
	defer o.removeStaged(log, job.Path)

	if job.Status.Terminal() {
		log.Debug("failure handler: upload already finished", slog.String("status", string(job.Status)))
		return nil
	}
	err = o.uploads.TransitionUpload(ctx, jobID, model.StatusFailed)
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		return nil
	case err != nil:
		return &StatusError{JobID: jobID, To: model.StatusFailed, Err: err}
	}
	metrics.RecordRun(o.jobName, string(model.StatusFailed))
	log.Error("upload marked failed", slog.String("file", job.FileName), slog.Any("cause", cause))
	return nil
}

// process streams the file. It converts a panic into a *RunError.
func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, job model.UploadJob, sum *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during run", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = &RunError{JobID: job.ID, Op: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()

	openStart := time.Now()
	rd, closeFn, err := o.openReader(ctx, job.Path)
	metrics.RecordStep(o.jobName, "open", err, time.Since(openStart))
	if err != nil {
		return &RunError{JobID: job.ID, Op: "open", Err: err}
	}
	defer closeFn()

	st := &runState{log: log, job: job}
	for {
		row, err := rd.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		res := o.processRow(ctx, st, row, err)
		if res.Outcome == rowFatal {
			return &RunError{JobID: job.ID, Op: st.fatalOp, Err: res.Err}
		}
		sum.add(res)
	}
	if st.norm == nil {
		log.Warn("file has no header row")
	}
	return nil
}

func (o *Orchestrator) openReader(ctx context.Context, path string) (*csv.Reader, func(), error) {
	rc, err := o.open(ctx, path)
	if err != nil {
		return nil, nil, &csv.IOError{Op: "open", Err: err}
	}
	rd, err := csv.NewReader(rc, o.csvOpts)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return rd, func() { rc.Close() }, nil
}

// runState is the per-run mutable state threaded through processRow.
type runState struct {
	log *slog.Logger
	job model.UploadJob

	norm       *transformer.Normalizer // nil until the header row is seen
	writeFails int
	fatalOp    string
}

// processRow classifies one record. readErr is the error Reader.Next
// returned with it, if any.
func (o *Orchestrator) processRow(ctx context.Context, st *runState, row csv.Row, readErr error) rowResult {
	switch {
	case readErr == nil:
	case errors.Is(readErr, csv.ErrMalformedRow):
		st.log.Warn("skipping malformed row", slog.Int("line", row.Line), slog.Any("error", readErr))
		return skipRow(row.Line, KindMalformed)
	default:
		st.fatalOp = "read"
		return fatalRow(row.Line, readErr)
	}

	if transformer.Blank(row.Fields) {
		st.log.Debug("skipping empty row", slog.Int("line", row.Line))
		return skipRow(row.Line, string(transformer.ReasonEmpty))
	}

	if st.norm == nil {
		h := csv.ResolveHeader(row.Fields, o.headerMap)
		st.norm = &transformer.Normalizer{Header: h, NFC: o.nfc}
		st.log.Debug("header resolved", slog.Int("line", row.Line), slog.Any("columns", h.Names()))
		if !h.Has(model.ColUniqueKey) {
			st.log.Warn("header has no UNIQUE_KEY column; every row will be skipped", slog.Any("columns", h.Names()))
		}
		return rowResult{Outcome: rowHeader, Line: row.Line}
	}

	res := st.norm.Normalize(row.Fields)
	if res.Outcome == transformer.OutcomeSkip {
		st.log.Warn("skipping row",
			slog.Int("line", row.Line),
			slog.String("reason", string(res.Reason)),
			slog.String("detail", res.Detail),
		)
		return skipRow(row.Line, string(res.Reason))
	}

	if err := o.products.UpsertProduct(ctx, res.Product); err != nil {
		if ctx.Err() != nil {
			st.fatalOp = "write"
			return fatalRow(row.Line, ctx.Err())
		}
		st.writeFails++
		st.log.Error("upsert failed; skipping row",
			slog.Int("line", row.Line),
			slog.String("unique_key", res.Product.UniqueKey),
			slog.Any("error", err),
		)
		if o.maxWriteErr > 0 && st.writeFails >= o.maxWriteErr {
			st.fatalOp = "write"
			return fatalRow(row.Line, fmt.Errorf("%d consecutive upserts failed: %w", st.writeFails, err))
		}
		return skipRow(row.Line, KindWriteFailed)
	}
	st.writeFails = 0
	return okRow(row.Line)
}

func (o *Orchestrator) recordRows(sum Summary) {
	metrics.RecordRow(o.jobName, KindProcessed, sum.Processed)
	for _, k := range sum.Reasons() {
		metrics.RecordRow(o.jobName, k, sum.ByReason[k])
	}
}

func (o *Orchestrator) removeStaged(log *slog.Logger, path string) {
	if path == "" {
		return
	}
	err := o.remove(path)
	switch {
	case err == nil:
		log.Info("staged file removed", slog.String("path", path))
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Warn("could not remove staged file", slog.String("path", path), slog.Any("error", err))
	}
}
