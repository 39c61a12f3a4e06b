package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"catalogimport/internal/logging"
	"catalogimport/internal/model"
	"catalogimport/internal/storage"

	"golang.org/x/sync/errgroup"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("ingest: dispatcher closed")

// Runner is what the Dispatcher drives; *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, jobID string) (Summary, error)
	Complete(ctx context.Context, jobID string) error
	HandleFailure(ctx context.Context, jobID string, cause error) error
}

var _ Runner = (*Orchestrator)(nil)

// DispatcherConfig bounds concurrency and retries.
type DispatcherConfig struct {
	// Workers is the number of jobs run at once. Rows of a job are always
	// sequential.
	Workers int

	// MaxAttempts caps tries of a retryable completion write, counting the
	// run itself.
	MaxAttempts int

	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration

	// QueueSize is the submit buffer; Submit blocks when it is full.
	QueueSize int

	// OnDone, if set, is called once per finished job with its final error.
	OnDone func(jobID string, sum Summary, err error)
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Dispatcher runs submitted jobs on a bounded worker pool. It is the
// background host of the orchestrator: it retries what is retryable and
// invokes the failure handler at most once per job.
type Dispatcher struct {
	run Runner
	cfg DispatcherConfig
	log *slog.Logger

	queue chan string

	// sendMu is held for reading while sending on queue and for writing
	// while closing it.
	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	inflight map[string]struct{}

	g        errgroup.Group
	loopDone chan struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher returns a Dispatcher; call Start to begin work.
func NewDispatcher(run Runner, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		run:      run,
		cfg:      cfg,
		log:      logging.OrDiscard(logger),
		queue:    make(chan string, cfg.QueueSize),
		inflight: make(map[string]struct{}),
		loopDone: make(chan struct{}),
		sleep:    sleepCtx,
	}
	d.g.SetLimit(cfg.Workers)
	return d
}

// Submit queues jobID. A job already queued or running is not queued twice.
func (d *Dispatcher) Submit(ctx context.Context, jobID string) error {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.mu.Lock()
	if _, dup := d.inflight[jobID]; dup {
		d.mu.Unlock()
		d.log.Debug("job already queued", slog.String("job_id", jobID))
		return nil
	}
	d.inflight[jobID] = struct{}{}
	d.mu.Unlock()

	select {
	case d.queue <- jobID:
		return nil
	case <-ctx.Done():
		d.release(jobID)
		return ctx.Err()
	}
}

// Start launches the dispatch loop. Jobs run until the queue is closed and
// drained, or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.loopDone)
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-d.queue:
				if !ok {
					return
				}
				d.g.Go(func() error {
					d.process(ctx, id)
					return nil
				})
			}
		}
	}()
}

// Close stops accepting jobs. Queued jobs still run.
func (d *Dispatcher) Close() {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Wait blocks until the loop has exited and every started job finished.
func (d *Dispatcher) Wait() {
	<-d.loopDone
	_ = d.g.Wait()
}

// Poll submits pending uploads every interval until ctx is done. The first
// scan happens immediately.
func (d *Dispatcher) Poll(ctx context.Context, uploads storage.UploadRepository, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := d.pollOnce(ctx, uploads); err != nil {
			if errors.Is(err, ErrDispatcherClosed) || ctx.Err() != nil {
				return err
			}
			d.log.Warn("poll for pending uploads failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context, uploads storage.UploadRepository) error {
	jobs, err := uploads.ListUploadsByStatus(ctx, model.StatusPending, storage.DefaultListLimit)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := d.Submit(ctx, j.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, jobID string) {
	defer d.release(jobID)
	log := d.log.With(slog.String("job_id", jobID))

	sum, err := d.run.Run(ctx, jobID)
	for attempt := 1; Retryable(err) && attempt < d.cfg.MaxAttempts; attempt++ {
		wait := d.cfg.Backoff * time.Duration(attempt)
		log.Warn("retrying completion", slog.Int("attempt", attempt+1), slog.Duration("backoff", wait), slog.Any("error", err))
		if d.sleep(ctx, wait) != nil {
			break
		}
		if err = d.run.Complete(ctx, jobID); err == nil {
			sum.Status = model.StatusCompleted
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("job dropped: no upload record")
	case errors.Is(err, ErrAlreadyClaimed):
		log.Info("job skipped: not pending", slog.String("status", string(sum.Status)))
	default:
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		if herr := d.run.HandleFailure(hctx, jobID, err); herr != nil {
			log.Error("failure handler failed", slog.Any("error", herr), slog.Any("cause", err))
		} else if !sum.Status.Terminal() {
			sum.Status = model.StatusFailed
		}
		cancel()
	}

	if d.cfg.OnDone != nil {
		d.cfg.OnDone(jobID, sum, err)
	}
}

func (d *Dispatcher) release(jobID string) {
	d.mu.Lock()
	delete(d.inflight, jobID)
	d.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
