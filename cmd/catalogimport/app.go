package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"catalogimport/internal/config"
	"catalogimport/internal/datasource/file"
	"catalogimport/internal/ingest"
	"catalogimport/internal/logging"
	"catalogimport/internal/metrics"
	"catalogimport/internal/metrics/datadog"
	"catalogimport/internal/metrics/prompush"
	"catalogimport/internal/model"
	"catalogimport/internal/parser/csv"
	"catalogimport/internal/storage"
)

// app carries the state shared by every subcommand: flags, the loaded config
// and the logger.
type app struct {
	cfgPath string
	verbose bool
	kind    string
	dsn     string

	cfg config.Config
	log *slog.Logger
}

// load reads the config, applies flag overrides and builds the logger. When
// strict is set, validation errors abort.
func (a *app) load(strict bool) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.kind != "" {
		cfg.Storage.Kind = a.kind
	}
	if a.dsn != "" {
		cfg.Storage.DB.DSN = a.dsn
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.log = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr}).
		With(slog.String("job", cfg.Job))

	if !strict {
		return nil
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			a.log.Warn("config", slog.String("path", iss.Path), slog.String("issue", iss.Message))
		}
	}
	if config.HasErrors(issues) {
		for _, iss := range issues {
			if iss.Severity == config.SeverityError {
				a.log.Error("config", slog.String("path", iss.Path), slog.String("issue", iss.Message))
			}
		}
		return fmt.Errorf("invalid configuration %s", a.cfgPath)
	}
	return nil
}

func (a *app) storageConfig() storage.Config {
	return storage.Config{
		Kind:          a.cfg.Storage.Kind,
		DSN:           a.cfg.Storage.DB.DSN,
		ProductsTable: a.cfg.Storage.DB.ProductsTable,
		UploadsTable:  a.cfg.Storage.DB.UploadsTable,
	}
}

// openStore connects to the backend and, with auto_create_table (or force),
// bootstraps both tables.
func (a *app) openStore(ctx context.Context, force bool) (storage.Repository, error) {
	sc := a.storageConfig()
	repo, err := storage.New(ctx, sc)
	if err != nil {
		return nil, err
	}
	if force || a.cfg.Storage.DB.AutoCreateTable {
		if err := storage.EnsureSchema(ctx, sc, repo); err != nil {
			repo.Close()
			return nil, err
		}
		a.log.Debug("schema ready", slog.String("kind", sc.Kind),
			slog.String("products", sc.WithDefaults().ProductsTable),
			slog.String("uploads", sc.WithDefaults().UploadsTable))
	}
	return repo, nil
}

// setupMetrics installs the configured backend and returns its flush. An
// unusable backend is logged and metrics stay disabled.
func (a *app) setupMetrics() func() {
	m := a.cfg.Metrics
	var (
		b       metrics.Backend
		closeFn func() error
		err     error
	)
	switch m.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(a.cfg.Job, m.PushgatewayURL)
	case "datadog":
		var dd *datadog.Backend
		dd, err = datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, Namespace: m.Namespace, GlobalTags: m.Tags})
		if err == nil {
			b, closeFn = dd, dd.Close
		}
	case "", "none":
		a.log.Debug("metrics disabled")
		return func() {}
	default:
		a.log.Warn("unknown metrics backend; metrics disabled", slog.String("backend", m.Backend))
		return func() {}
	}
	if err != nil {
		a.log.Warn("metrics backend unavailable; using nop", slog.String("backend", m.Backend), slog.Any("error", err))
		return func() {}
	}

	metrics.SetBackend(b)
	a.log.Debug("metrics enabled", slog.String("backend", m.Backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			a.log.Warn("metrics flush failed", slog.Any("error", err))
		}
		if closeFn != nil {
			_ = closeFn()
		}
	}
}

func (a *app) orchestrator(repo storage.Repository) *ingest.Orchestrator {
	opts := a.cfg.Parser.Options
	return ingest.New(repo, repo, a.log,
		ingest.WithJobName(a.cfg.Job),
		ingest.WithCSVOptions(csv.OptionsFromConfig(opts)),
		ingest.WithHeaderMap(opts.StringMap("header_map")),
		ingest.WithNFC(opts.Bool("normalize_nfc", false)),
		ingest.WithMaxConsecutiveWriteFailures(a.cfg.Runtime.MaxConsecutiveWriteFailures),
	)
}

func (a *app) stager(repo storage.UploadRepository) *file.Stager {
	return file.NewStager(file.StagerConfig{
		Dir:        a.cfg.Staging.Dir,
		MaxBytes:   a.cfg.Staging.MaxBytes,
		AllowedExt: a.cfg.Staging.AllowedExt,
	}, repo, a.log)
}

func (a *app) stage(ctx context.Context, repo storage.UploadRepository, path string) (model.UploadJob, error) {
	start := time.Now()
	job, err := a.stager(repo).Stage(ctx, path)
	metrics.RecordStep(a.cfg.Job, "stage", err, time.Since(start))
	return job, err
}

func (a *app) dispatcherConfig(onDone func(string, ingest.Summary, error)) ingest.DispatcherConfig {
	return ingest.DispatcherConfig{
		Workers:     a.cfg.Runtime.Workers,
		MaxAttempts: a.cfg.Runtime.MaxAttempts,
		Backoff:     a.cfg.Runtime.RetryBackoff.D(),
		OnDone:      onDone,
	}
}

type jobResult struct {
	Summary ingest.Summary
	Err     error
}

// runJobs drives ids through a Dispatcher to completion and returns each
// job's outcome. Runs are not cancelled by ctx once started, so a signal
// never leaves a job half-settled.
func (a *app) runJobs(ctx context.Context, repo storage.Repository, ids ...string) (map[string]jobResult, error) {
	var mu sync.Mutex
	results := make(map[string]jobResult, len(ids))

	d := ingest.NewDispatcher(a.orchestrator(repo), a.dispatcherConfig(func(id string, sum ingest.Summary, err error) {
		mu.Lock()
		results[id] = jobResult{Summary: sum, Err: err}
		mu.Unlock()
	}), a.log)
	d.Start(context.WithoutCancel(ctx))

	var submitErr error
	for _, id := range ids {
		if submitErr = d.Submit(ctx, id); submitErr != nil {
			break
		}
	}
	d.Close()
	d.Wait()
	return results, submitErr
}
