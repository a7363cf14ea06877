package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/runner"
)

// fakeProcessor lets tests control when jobs start and finish.
type fakeProcessor struct {
	mu        sync.Mutex
	started   chan string
	release   chan struct{}
	order     []string
	fail      error
	panicWith string

	running    int32
	maxRunning int32
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		started: make(chan string, 64),
		release: make(chan struct{}),
	}
}

func (p *fakeProcessor) Process(ctx context.Context, job model.Job) (*Output, error) {
	cur := atomic.AddInt32(&p.running, 1)
	defer atomic.AddInt32(&p.running, -1)
	for {
		max := atomic.LoadInt32(&p.maxRunning)
		if cur <= max || atomic.CompareAndSwapInt32(&p.maxRunning, max, cur) {
			break
		}
	}

	p.started <- job.ID
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.panicWith != "" {
		panic(p.panicWith)
	}
	if p.fail != nil {
		return nil, p.fail
	}

	p.mu.Lock()
	p.order = append(p.order, job.ID)
	p.mu.Unlock()

	set := &model.MaskSet{
		JobID:       job.ID,
		ImageID:     job.ImageID,
		Model:       "builtin",
		Masks:       []model.Mask{},
		GeneratedAt: time.Now(),
	}
	return &Output{MaskSet: set, Key: fmt.Sprintf("masks/%s/%s.json", job.ImageID, job.ID)}, nil
}

func newTestQueue(t *testing.T, workers, depth int, proc Processor) *Queue {
	t.Helper()
	q := New(Config{
		Workers:    workers,
		MaxDepth:   depth,
		JobTimeout: 5 * time.Second,
		Retention:  time.Hour,
	}, proc, zap.NewNop())
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return q
}

func waitForStatus(t *testing.T, q *Queue, jobID string, want model.JobStatus) model.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Status(jobID)
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.Terminal() && job.Status != want {
			t.Fatalf("job reached terminal status %s, want %s", job.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return model.Job{}
}

func TestEnqueueAndComplete(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 8, proc)

	job, err := q.Enqueue("img-1", model.SegmentConfig{MaxMasks: 8})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if job.Status != model.JobStatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected createdAt to be set")
	}

	<-proc.started
	close(proc.release)

	done := waitForStatus(t, q, job.ID, model.JobStatusSucceeded)
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("expected start and completion timestamps on terminal job")
	}
	if done.MaskSetKey == "" {
		t.Error("expected mask set key on succeeded job")
	}

	set, err := q.Result(job.ID)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if set.JobID != job.ID {
		t.Errorf("result belongs to job %s, want %s", set.JobID, job.ID)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	q := newTestQueue(t, 1, 4, newFakeProcessor())

	if _, err := q.Status("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := q.Result("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestResultBeforeFinish(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 4, proc)

	job, err := q.Enqueue("img-1", model.SegmentConfig{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	<-proc.started

	if _, err := q.Result(job.ID); !errors.Is(err, ErrJobNotFinished) {
		t.Errorf("expected ErrJobNotFinished, got %v", err)
	}
	close(proc.release)
}

func TestQueueFullCreatesNoRecord(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 1, proc)

	// Occupy the single worker.
	first, err := q.Enqueue("img-1", model.SegmentConfig{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	<-proc.started

	// Fill the single pending slot.
	if _, err := q.Enqueue("img-2", model.SegmentConfig{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// The queue is now at max depth.
	rejected, err := q.Enqueue("img-3", model.SegmentConfig{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if rejected.ID != "" {
		t.Error("expected no job record for rejected enqueue")
	}

	close(proc.release)
	waitForStatus(t, q, first.ID, model.JobStatusSucceeded)
}

func TestConcurrencyBound(t *testing.T) {
	const workers = 3
	proc := newFakeProcessor()
	q := newTestQueue(t, workers, 32, proc)

	var ids []string
	for i := 0; i < 12; i++ {
		job, err := q.Enqueue(fmt.Sprintf("img-%d", i), model.SegmentConfig{})
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids = append(ids, job.ID)
	}

	// Exactly W jobs start; the rest wait.
	for i := 0; i < workers; i++ {
		<-proc.started
	}
	select {
	case id := <-proc.started:
		t.Fatalf("job %s started beyond the worker bound", id)
	case <-time.After(100 * time.Millisecond):
	}
	if got := q.Stats().Running; got != workers {
		t.Errorf("expected %d running, got %d", workers, got)
	}

	close(proc.release)
	for _, id := range ids {
		waitForStatus(t, q, id, model.JobStatusSucceeded)
	}

	if max := atomic.LoadInt32(&proc.maxRunning); max > workers {
		t.Errorf("observed %d concurrent jobs, bound is %d", max, workers)
	}
}

func TestFIFOOrder(t *testing.T) {
	proc := newFakeProcessor()
	close(proc.release) // run through without blocking
	q := newTestQueue(t, 1, 16, proc)

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := q.Enqueue(fmt.Sprintf("img-%d", i), model.SegmentConfig{})
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		ids = append(ids, job.ID)
	}

	for _, id := range ids {
		waitForStatus(t, q, id, model.JobStatusSucceeded)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	for i, id := range ids {
		if proc.order[i] != id {
			t.Fatalf("job %d executed out of order: got %s, want %s", i, proc.order[i], id)
		}
	}
}

func TestSecondJobWaitsForFirst(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 8, proc)

	first, _ := q.Enqueue("img-1", model.SegmentConfig{})
	<-proc.started
	second, _ := q.Enqueue("img-2", model.SegmentConfig{})

	// While the first is running the second must stay queued.
	time.Sleep(50 * time.Millisecond)
	job, err := q.Status(second.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if job.Status != model.JobStatusQueued {
		t.Errorf("expected second job queued while first runs, got %s", job.Status)
	}

	close(proc.release)
	waitForStatus(t, q, first.ID, model.JobStatusSucceeded)
	waitForStatus(t, q, second.ID, model.JobStatusSucceeded)
}

func TestFailureRecordsDetail(t *testing.T) {
	proc := newFakeProcessor()
	proc.fail = fmt.Errorf("%w: checkpoint corrupt", runner.ErrModel)
	close(proc.release)
	q := newTestQueue(t, 1, 4, proc)

	job, _ := q.Enqueue("img-1", model.SegmentConfig{})
	failed := waitForStatus(t, q, job.ID, model.JobStatusFailed)

	if failed.Error == nil {
		t.Fatal("expected error detail on failed job")
	}
	if failed.FailureKind != model.FailureModelError {
		t.Errorf("expected model_error kind, got %s", failed.FailureKind)
	}
	if _, err := q.Result(job.ID); !errors.Is(err, ErrJobNotFinished) {
		t.Errorf("expected ErrJobNotFinished for failed job, got %v", err)
	}
}

func TestResourceExhaustionDistinguished(t *testing.T) {
	proc := newFakeProcessor()
	proc.fail = fmt.Errorf("%w: no accelerator memory", runner.ErrResourceExhausted)
	close(proc.release)
	q := newTestQueue(t, 1, 4, proc)

	job, _ := q.Enqueue("img-1", model.SegmentConfig{})
	failed := waitForStatus(t, q, job.ID, model.JobStatusFailed)

	if failed.FailureKind != model.FailureResourceExhausted {
		t.Errorf("expected resource_exhausted kind, got %s", failed.FailureKind)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	proc := newFakeProcessor()
	proc.panicWith = "segfault in native code"
	close(proc.release)
	q := newTestQueue(t, 1, 4, proc)

	job, _ := q.Enqueue("img-1", model.SegmentConfig{})
	waitForStatus(t, q, job.ID, model.JobStatusFailed)

	// The same worker must pick up the next job.
	proc.panicWith = ""
	next, _ := q.Enqueue("img-2", model.SegmentConfig{})
	waitForStatus(t, q, next.ID, model.JobStatusSucceeded)
}

func TestCancelQueuedJob(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 8, proc)

	running, _ := q.Enqueue("img-1", model.SegmentConfig{})
	<-proc.started
	waiting, _ := q.Enqueue("img-2", model.SegmentConfig{})

	canceled, err := q.Cancel(waiting.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if canceled.Status != model.JobStatusCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}

	// A running job cannot be canceled.
	if _, err := q.Cancel(running.ID); !errors.Is(err, ErrJobRunning) {
		t.Errorf("expected ErrJobRunning, got %v", err)
	}

	close(proc.release)
	waitForStatus(t, q, running.ID, model.JobStatusSucceeded)

	// The canceled job never ran and stays terminal.
	job, err := q.Status(waiting.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if job.Status != model.JobStatusCanceled {
		t.Errorf("canceled job left terminal state: %s", job.Status)
	}
	if _, err := q.Cancel(waiting.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("expected ErrJobFinished, got %v", err)
	}
}

func TestCancelReleasesQueueCapacity(t *testing.T) {
	proc := newFakeProcessor()
	q := newTestQueue(t, 1, 2, proc)

	// Occupy the single worker, then fill both waiting slots.
	busy, _ := q.Enqueue("img-0", model.SegmentConfig{})
	<-proc.started
	first, _ := q.Enqueue("img-1", model.SegmentConfig{})
	second, _ := q.Enqueue("img-2", model.SegmentConfig{})
	if _, err := q.Enqueue("img-3", model.SegmentConfig{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull at max depth, got %v", err)
	}

	// Cancelling waiting jobs frees their slots while the worker is still
	// held by the running job.
	if _, err := q.Cancel(first.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := q.Cancel(second.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := q.Stats().Pending; got != 0 {
		t.Errorf("expected empty pending after cancels, got %d", got)
	}

	replacement, err := q.Enqueue("img-4", model.SegmentConfig{})
	if err != nil {
		t.Fatalf("enqueue after cancel rejected: %v", err)
	}

	close(proc.release)
	waitForStatus(t, q, busy.ID, model.JobStatusSucceeded)
	waitForStatus(t, q, replacement.ID, model.JobStatusSucceeded)

	// The cancelled jobs never ran.
	proc.mu.Lock()
	defer proc.mu.Unlock()
	for _, id := range proc.order {
		if id == first.ID || id == second.ID {
			t.Errorf("cancelled job %s was executed", id)
		}
	}
}

func TestStatusMonotonic(t *testing.T) {
	proc := newFakeProcessor()
	close(proc.release)
	q := newTestQueue(t, 2, 16, proc)

	job, err := q.Enqueue("img-1", model.SegmentConfig{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	rank := map[model.JobStatus]int{
		model.JobStatusQueued:    0,
		model.JobStatusRunning:   1,
		model.JobStatusSucceeded: 2,
	}
	last := -1
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := q.Status(job.ID)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		r, ok := rank[snap.Status]
		if !ok {
			t.Fatalf("unexpected status %s", snap.Status)
		}
		if r < last {
			t.Fatalf("status regressed from rank %d to %d", last, r)
		}
		last = r
		if snap.Status == model.JobStatusSucceeded {
			return
		}
	}
	t.Fatal("job never succeeded")
}

func TestPruneKeepsActiveJobs(t *testing.T) {
	proc := newFakeProcessor()
	close(proc.release)
	q := newTestQueue(t, 1, 8, proc)

	done, _ := q.Enqueue("img-1", model.SegmentConfig{})
	waitForStatus(t, q, done.ID, model.JobStatusSucceeded)

	// Cutoff in the future removes the finished job, never active ones.
	q.prune(time.Now().Add(time.Minute))

	if _, err := q.Status(done.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected pruned job to be gone, got %v", err)
	}
}
