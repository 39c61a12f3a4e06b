package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"catalogimport/internal/model"
	"catalogimport/internal/storage"
)

// fakeRunner scripts Run/Complete results per job.
type fakeRunner struct {
	mu sync.Mutex

	runErr      map[string]error
	completeErr []error // consumed in order
	block       chan struct{}

	runs     map[string]int
	complete int
	failures map[string]int

	active, maxActive int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		runErr:   map[string]error{},
		runs:     map[string]int{},
		failures: map[string]int{},
	}
}

func (f *fakeRunner) Run(ctx context.Context, id string) (Summary, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id]++
	return Summary{JobID: id}, f.runErr[id]
}

func (f *fakeRunner) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete++
	if len(f.completeErr) == 0 {
		return nil
	}
	err := f.completeErr[0]
	f.completeErr = f.completeErr[1:]
	return err
}

func (f *fakeRunner) HandleFailure(ctx context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id]++
	return nil
}

type doneRecord struct {
	id  string
	sum Summary
	err error
}

func startDispatcher(t *testing.T, r Runner, cfg DispatcherConfig) (*Dispatcher, chan doneRecord) {
	t.Helper()
	done := make(chan doneRecord, 64)
	cfg.OnDone = func(id string, sum Summary, err error) { done <- doneRecord{id, sum, err} }
	d := NewDispatcher(r, cfg, nil)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	d.Start(context.Background())
	return d, done
}

func drain(t *testing.T, d *Dispatcher, done chan doneRecord) map[string]doneRecord {
	t.Helper()
	d.Close()
	d.Wait()
	close(done)
	out := map[string]doneRecord{}
	for r := range done {
		out[r.id] = r
	}
	return out
}

func TestDispatcherRunsJobsWithinWorkerLimit(t *testing.T) {
	r := newFakeRunner()
	r.block = make(chan struct{})
	d, done := startDispatcher(t, r, DispatcherConfig{Workers: 2})

	for i := 0; i < 6; i++ {
		if err := d.Submit(context.Background(), fmt.Sprintf("j%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(r.block)

	got := drain(t, d, done)
	if len(got) != 6 {
		t.Fatalf("finished %d jobs, want 6", len(got))
	}
	if m := atomic.LoadInt32(&r.maxActive); m > 2 {
		t.Errorf("max concurrent runs = %d, want <= 2", m)
	}
}

func TestDispatcherDeduplicatesInFlight(t *testing.T) {
	r := newFakeRunner()
	r.block = make(chan struct{})
	d, done := startDispatcher(t, r, DispatcherConfig{Workers: 1})

	for i := 0; i < 3; i++ {
		if err := d.Submit(context.Background(), "same"); err != nil {
			t.Fatal(err)
		}
	}
	close(r.block)
	drain(t, d, done)
	if r.runs["same"] != 1 {
		t.Errorf("runs = %d, want 1", r.runs["same"])
	}
}

func TestDispatcherRetriesCompletion(t *testing.T) {
	r := newFakeRunner()
	r.runErr["c1"] = &StatusError{JobID: "c1", To: model.StatusCompleted, Err: errors.New("reset")}
	r.completeErr = []error{&StatusError{JobID: "c1", To: model.StatusCompleted, Err: errors.New("reset")}}
	d, done := startDispatcher(t, r, DispatcherConfig{Workers: 1, MaxAttempts: 3})

	if err := d.Submit(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	got := drain(t, d, done)["c1"]
	if got.err != nil {
		t.Fatalf("final err = %v, want nil", got.err)
	}
	if got.sum.Status != model.StatusCompleted {
		t.Errorf("Status = %s", got.sum.Status)
	}
	if r.complete != 2 || r.runs["c1"] != 1 {
		t.Errorf("complete calls = %d, runs = %d; want 2 and 1", r.complete, r.runs["c1"])
	}
	if r.failures["c1"] != 0 {
		t.Errorf("HandleFailure called %d times", r.failures["c1"])
	}
}

func TestDispatcherFailureHandlerCalledOnce(t *testing.T) {
	cases := map[string]error{
		"fatal":     &RunError{JobID: "x", Op: "read", Err: errors.New("eof")},
		"exhausted": &StatusError{JobID: "x", To: model.StatusCompleted, Err: errors.New("down")},
		"start":     &StatusError{JobID: "x", To: model.StatusProcessing, Err: errors.New("down")},
	}
	for name, runErr := range cases {
		t.Run(name, func(t *testing.T) {
			r := newFakeRunner()
			r.runErr["x"] = runErr
			r.completeErr = []error{runErr, runErr, runErr}
			d, done := startDispatcher(t, r, DispatcherConfig{Workers: 1, MaxAttempts: 2})
			if err := d.Submit(context.Background(), "x"); err != nil {
				t.Fatal(err)
			}
			got := drain(t, d, done)["x"]
			if got.err == nil {
				t.Fatal("want final error")
			}
			if r.failures["x"] != 1 {
				t.Errorf("HandleFailure calls = %d, want 1", r.failures["x"])
			}
			if got.sum.Status != model.StatusFailed {
				t.Errorf("Status = %s, want failed", got.sum.Status)
			}
		})
	}
}

func TestDispatcherSkipsFailureHandlerForUnknownJob(t *testing.T) {
	r := newFakeRunner()
	r.runErr["ghost"] = &NotFoundError{JobID: "ghost"}
	d, done := startDispatcher(t, r, DispatcherConfig{})
	if err := d.Submit(context.Background(), "ghost"); err != nil {
		t.Fatal(err)
	}
	got := drain(t, d, done)["ghost"]
	if !errors.Is(got.err, storage.ErrNotFound) {
		t.Errorf("err = %v", got.err)
	}
	if r.failures["ghost"] != 0 {
		t.Errorf("HandleFailure called for unknown job")
	}
}

func TestDispatcherLeavesClaimedJobAlone(t *testing.T) {
	r := newFakeRunner()
	r.runErr["busy"] = &RunError{JobID: "busy", Op: "claim", Err: fmt.Errorf("%w: %w", ErrAlreadyClaimed,
		&storage.TransitionError{ID: "busy", From: model.StatusProcessing, To: model.StatusProcessing})}
	d, done := startDispatcher(t, r, DispatcherConfig{MaxAttempts: 3})
	if err := d.Submit(context.Background(), "busy"); err != nil {
		t.Fatal(err)
	}
	got := drain(t, d, done)["busy"]
	if !errors.Is(got.err, ErrAlreadyClaimed) {
		t.Errorf("err = %v", got.err)
	}
	if r.failures["busy"] != 0 {
		t.Errorf("HandleFailure called %d times for a job owned elsewhere", r.failures["busy"])
	}
	if r.runs["busy"] != 1 || r.complete != 0 {
		t.Errorf("runs = %d, complete = %d; want 1 and 0", r.runs["busy"], r.complete)
	}
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := NewDispatcher(newFakeRunner(), DispatcherConfig{}, nil)
	d.Start(context.Background())
	d.Close()
	d.Wait()
	if err := d.Submit(context.Background(), "late"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("err = %v, want ErrDispatcherClosed", err)
	}
	d.Close() // second Close is a no-op
}

func TestDispatcherPollSubmitsPendingOldestFirst(t *testing.T) {
	repo := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		job := model.UploadJob{ID: id, FileName: id, Path: "/nowhere/" + id, Status: model.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.CreateUpload(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.TransitionUpload(ctx, "p2", model.StatusProcessing); err != nil {
		t.Fatal(err)
	}

	r := newFakeRunner()
	var order []string
	var mu sync.Mutex
	pollCtx, cancel := context.WithCancel(ctx)
	d := NewDispatcher(r, DispatcherConfig{Workers: 1, OnDone: func(id string, _ Summary, _ error) {
		mu.Lock()
		order = append(order, id)
		if len(order) == 2 {
			cancel()
		}
		mu.Unlock()
	}}, nil)
	d.Start(ctx)

	err := d.Poll(pollCtx, repo, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll err = %v", err)
	}
	d.Close()
	d.Wait()

	if len(order) != 2 || order[0] != "p1" || order[1] != "p3" {
		t.Errorf("order = %v, want [p1 p3]", order)
	}
}

// End to end: the dispatcher driving a real orchestrator.
func TestDispatcherWithOrchestrator(t *testing.T) {
	repo := newStore(t)
	orch := New(repo, repo, nil)
	ok := stage(t, repo, "UNIQUE_KEY,PRODUCT_TITLE\nK1,One\n")
	gone := stage(t, repo, "UNIQUE_KEY\n")
	if err := os.Remove(gone.Path); err != nil {
		t.Fatal(err)
	}

	d, done := startDispatcher(t, orch, DispatcherConfig{Workers: 2, MaxAttempts: 2})
	for _, id := range []string{ok.ID, gone.ID} {
		if err := d.Submit(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	got := drain(t, d, done)

	if got[ok.ID].err != nil || status(t, repo, ok.ID) != model.StatusCompleted {
		t.Errorf("ok job: err = %v, status = %s", got[ok.ID].err, status(t, repo, ok.ID))
	}
	if got[gone.ID].err == nil || status(t, repo, gone.ID) != model.StatusFailed {
		t.Errorf("missing-file job: err = %v, status = %s", got[gone.ID].err, status(t, repo, gone.ID))
	}
}
