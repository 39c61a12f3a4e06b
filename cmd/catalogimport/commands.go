package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"catalogimport/internal/config"
	"catalogimport/internal/ingest"
	"catalogimport/internal/model"
	"catalogimport/internal/statusapi"
	"catalogimport/internal/storage"
)

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "catalogimport",
		Short: "Stage and ingest product catalog CSV files",
		Long: `catalogimport copies catalog CSV uploads into a staging directory, records a
pending upload job for each, and ingests the rows into the products table
with an idempotent upsert keyed on UNIQUE_KEY.

Examples:
  catalogimport ingest products.csv            # stage and ingest now
  catalogimport stage products.csv             # stage only; a worker picks it up
  catalogimport worker                         # process pending uploads
  catalogimport serve                          # status API plus worker
  catalogimport status --limit 20              # latest uploads`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "config JSON path (defaults plus environment when empty)")
	pf.BoolVar(&a.verbose, "v", false, "enable debug logs")
	pf.StringVar(&a.kind, "kind", "", "storage backend, overrides storage.kind")
	pf.StringVar(&a.dsn, "dsn", "", "storage DSN, overrides storage.db.dsn")

	root.AddCommand(
		newStageCommand(a),
		newRunCommand(a),
		newIngestCommand(a),
		newWorkerCommand(a),
		newStatusCommand(a),
		newServeCommand(a),
		newMigrateCommand(a),
		newValidateCommand(a),
	)
	return root
}

func newStageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <file>...",
		Short: "Copy files into staging and record pending upload jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer a.setupMetrics()()

			var failed int
			for _, path := range args {
				job, err := a.stage(ctx, repo, path)
				if err != nil {
					a.log.Error("stage failed", slog.String("file", path), slog.Any("error", err))
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", job.ID, job.FileName)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be staged", failed, len(args))
			}
			return nil
		},
	}
}

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>...",
		Short: "Ingest already staged upload jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer a.setupMetrics()()

			results, err := a.runJobs(ctx, repo, args...)
			return report(cmd.OutOrStdout(), args, results, err)
		},
	}
}

func newIngestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Stage files and ingest them immediately",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer a.setupMetrics()()

			var (
				ids      []string
				stageErr error
			)
			for _, path := range args {
				job, err := a.stage(ctx, repo, path)
				if err != nil {
					a.log.Error("stage failed", slog.String("file", path), slog.Any("error", err))
					stageErr = errors.Join(stageErr, err)
					continue
				}
				ids = append(ids, job.ID)
			}
			if len(ids) == 0 {
				return stageErr
			}

			results, err := a.runJobs(ctx, repo, ids...)
			return errors.Join(stageErr, report(cmd.OutOrStdout(), ids, results, err))
		},
	}
}

func newWorkerCommand(a *app) *cobra.Command {
	var (
		workers  int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process pending uploads until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			if workers > 0 {
				a.cfg.Runtime.Workers = workers
			}
			if interval > 0 {
				a.cfg.Runtime.PollInterval = config.Duration(interval)
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer a.setupMetrics()()

			return a.work(ctx, repo)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent jobs, overrides runtime.workers")
	cmd.Flags().DurationVar(&interval, "poll-interval", 0, "pending scan interval, overrides runtime.poll_interval")
	return cmd
}

// work polls for pending uploads until ctx is done, then drains started jobs.
func (a *app) work(ctx context.Context, repo storage.Repository) error {
	d := ingest.NewDispatcher(a.orchestrator(repo), a.dispatcherConfig(func(id string, sum ingest.Summary, err error) {
		if err != nil {
			a.log.Warn("job finished with error", slog.String("job_id", id), slog.String("status", string(sum.Status)), slog.Any("error", err))
		}
	}), a.log)
	d.Start(context.WithoutCancel(ctx))

	a.log.Info("worker started",
		slog.Int("workers", a.cfg.Runtime.Workers),
		slog.Duration("poll_interval", a.cfg.Runtime.PollInterval.D()))
	err := d.Poll(ctx, repo, a.cfg.Runtime.PollInterval.D())

	d.Close()
	d.Wait()
	a.log.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newStatusCommand(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show recent uploads, newest first, or one upload",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				job, err := repo.GetUpload(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(out).Encode(job)
				}
				fmt.Fprintf(out, "id:       %s\nfile:     %s\nstatus:   %s\nchecksum: %s\ncreated:  %s\nupdated:  %s\n",
					job.ID, job.FileName, job.Status, job.Checksum,
					job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
				return nil
			}

			jobs, err := repo.ListUploads(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				if jobs == nil {
					jobs = []model.UploadJob{}
				}
				return json.NewEncoder(out).Encode(jobs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.FileName, j.Status, j.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultListLimit, "maximum uploads to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload status API, optionally with a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Status.Addr = addr
			}
			ctx := cmd.Context()
			repo, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer repo.Close()
			defer a.setupMetrics()()

			sc := statusapi.DefaultServerConfig()
			sc.Addr = a.cfg.Status.Addr
			sc.Debug = a.verbose
			srv := statusapi.NewServer(repo, sc, a.log)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if withWorker {
				g.Go(func() error { return a.work(gctx, repo) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides status.addr")
	cmd.Flags().BoolVar(&withWorker, "worker", true, "also process pending uploads")
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the products and uploads tables when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			repo, err := a.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			repo.Close()
			sc := a.storageConfig().WithDefaults()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready: %s (%s, %s)\n", sc.Kind, sc.ProductsTable, sc.UploadsTable)
			return nil
		},
	}
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				fmt.Fprintf(out, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid: %s", a.cfgPath)
			}
			fmt.Fprintf(out, "configuration is valid: %s\n", a.cfgPath)
			return nil
		},
	}
}

// report prints one line per job and returns an error naming the jobs that
// did not complete.
func report(w io.Writer, ids []string, results map[string]jobResult, runErr error) error {
	var failed []string
	for _, id := range ids {
		r, ok := results[id]
		if !ok {
			fmt.Fprintf(w, "%s\tnot run\n", id)
			failed = append(failed, id)
			continue
		}
		s := r.Summary
		fmt.Fprintf(w, "%s\t%s\tprocessed=%d skipped=%d%s\t%s\n",
			id, s.Status, s.Processed, s.Skipped, reasons(s), s.Duration.Truncate(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", id, r.Err)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return errors.Join(runErr, fmt.Errorf("%d of %d jobs failed: %s", len(failed), len(ids), strings.Join(failed, ", ")))
	}
	return runErr
}

func reasons(s ingest.Summary) string {
	var b strings.Builder
	for _, k := range s.Reasons() {
		fmt.Fprintf(&b, " %s=%d", k, s.ByReason[k])
	}
	return b.String()
}
