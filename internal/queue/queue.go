// Package queue sequences segmentation jobs through a fixed-size worker
// pool. It owns every job record from enqueue until the terminal state;
// records are read-only afterward. All mutations go through the single
// queue mutex.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/pkg/response"
)

var (
	// ErrQueueFull signals backpressure: the pending queue is at its
	// configured maximum depth and no job record was created.
	ErrQueueFull = errors.New("queue full")
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotFinished is returned when a result is requested before the
	// job reached a terminal state
	ErrJobNotFinished = errors.New("job not finished")
	// ErrJobRunning is returned when cancelling a job that already started;
	// a running model invocation is not interruptible
	ErrJobRunning = errors.New("job already running")
	// ErrJobFinished is returned when cancelling a job in a terminal state
	ErrJobFinished = errors.New("job already finished")
)

// Output is what a processor hands back for a successful job.
type Output struct {
	MaskSet *model.MaskSet
	Key     string // blob store key the mask set was persisted under
}

// Processor executes one job. Implementations may block for seconds; the
// queue guarantees at most Workers concurrent calls.
type Processor interface {
	Process(ctx context.Context, job model.Job) (*Output, error)
}

// Notifier receives job lifecycle events, e.g. for websocket fan-out.
// All methods must be non-blocking.
type Notifier interface {
	JobStatus(jobID string, status model.JobStatus, step string)
	JobComplete(jobID string, result interface{})
	JobError(jobID string, code, message string)
}

// Config controls pool size and retention.
type Config struct {
	Workers    int           // exact number of concurrently running jobs
	MaxDepth   int           // pending queue capacity
	JobTimeout time.Duration // per model invocation
	Retention  time.Duration // terminal records kept this long
}

// Queue is the job queue and worker pool.
type Queue struct {
	cfg    Config
	proc   Processor
	notify Notifier      // may be nil
	mirror *StatusMirror // may be nil
	log    *zap.Logger

	mu      sync.RWMutex
	jobs    map[string]*model.Job
	pending []string // queued job ids, FIFO; cancel removes entries outright
	running int

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// Option configures optional queue collaborators.
type Option func(*Queue)

// WithNotifier wires a lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notify = n }
}

// WithMirror wires the Redis status mirror.
func WithMirror(m *StatusMirror) Option {
	return func(q *Queue) { q.mirror = m }
}

// New builds a stopped queue. Call Start to launch the workers.
func New(cfg Config, proc Processor, log *zap.Logger, opts ...Option) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	q := &Queue{
		cfg:  cfg,
		proc: proc,
		log:  log,
		jobs: make(map[string]*model.Job),
		wake: make(chan struct{}, cfg.MaxDepth),
		quit: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker pool and the retention janitor.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.janitor()

	q.log.Info("job queue started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("maxDepth", q.cfg.MaxDepth),
	)
}

// Stop signals the workers and waits for in-flight jobs to finish or ctx to
// expire. Pending jobs stay queued in memory and are lost with the process;
// durability across restarts is out of scope.
func (q *Queue) Stop(ctx context.Context) error {
	close(q.quit)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue registers a new job. It never blocks the caller: when the pending
// queue is at capacity it fails with ErrQueueFull and no record is created.
func (q *Queue) Enqueue(imageID string, cfg model.SegmentConfig) (model.Job, error) {
	job := &model.Job{
		ID:        uuid.New().String(),
		ImageID:   imageID,
		Status:    model.JobStatusQueued,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if len(q.pending) >= q.cfg.MaxDepth {
		q.mu.Unlock()
		return model.Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	snapshot := *job
	q.mu.Unlock()

	// One wake token per enqueued job. The buffer holds MaxDepth tokens, so
	// tokens outstanding never fall below the number of waiting jobs; a
	// dropped send only happens when enough tokens are already pending.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.mirrorJob(&snapshot)
	q.log.Info("job enqueued",
		zap.String("jobId", snapshot.ID),
		zap.String("imageId", imageID),
	)
	return snapshot, nil
}

// Status returns a snapshot of a job.
func (q *Queue) Status(jobID string) (model.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return model.Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Result returns the mask set of a succeeded job.
func (q *Queue) Result(jobID string) (*model.MaskSet, error) {
	q.mu.RLock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.RUnlock()
		return nil, ErrJobNotFound
	}
	status := job.Status
	result := job.Result
	q.mu.RUnlock()

	if status != model.JobStatusSucceeded {
		return nil, ErrJobNotFinished
	}

	var set model.MaskSet
	if err := json.Unmarshal(result, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mask set: %w", err)
	}
	return &set, nil
}

// Cancel removes a queued job. Running jobs cannot be cancelled: the model
// invocation is treated as atomic.
func (q *Queue) Cancel(jobID string) (model.Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return model.Job{}, ErrJobNotFound
	}

	switch job.Status {
	case model.JobStatusQueued:
	case model.JobStatusRunning:
		q.mu.Unlock()
		return model.Job{}, ErrJobRunning
	default:
		q.mu.Unlock()
		return model.Job{}, ErrJobFinished
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusCanceled
	job.CanceledAt = &now
	// Drop the id from the waiting list so the slot is free for new
	// enqueues immediately, not when a worker would have drained it.
	for i, id := range q.pending {
		if id == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	snapshot := *job
	q.mu.Unlock()

	q.mirrorJob(&snapshot)
	q.notifyStatus(jobID, model.JobStatusCanceled, "")
	q.log.Info("job canceled", zap.String("jobId", jobID))
	return snapshot, nil
}

// Stats describes worker pool occupancy for health reporting.
type Stats struct {
	Workers  int `json:"workers"`
	Running  int `json:"running"`
	Pending  int `json:"pending"`
	Capacity int `json:"capacity"`
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{
		Workers:  q.cfg.Workers,
		Running:  q.running,
		Pending:  len(q.pending), // cancelled jobs are already removed
		Capacity: q.cfg.MaxDepth,
	}
}

// worker executes jobs one at a time, FIFO by enqueue order. A failing or
// panicking job never takes the worker down with it.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
			// A wake token may be stale when its job was cancelled while
			// waiting; popNext just comes back empty then.
			if jobID, ok := q.popNext(); ok {
				q.runOne(jobID)
			}
		}
	}
}

func (q *Queue) popNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	return jobID, true
}

func (q *Queue) runOne(jobID string) {
	job, ok := q.markRunning(jobID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	out, err := q.process(ctx, job)
	if err != nil {
		q.fail(jobID, err)
		return
	}
	q.complete(jobID, out)
}

// process isolates one job execution; a panic inside the processor is
// converted to a job failure and the worker keeps serving.
func (q *Queue) process(ctx context.Context, job model.Job) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("worker recovered from panic",
				zap.String("jobId", job.ID),
				zap.Any("panic", r),
			)
			out = nil
			err = fmt.Errorf("%w: worker panic: %v", runner.ErrModel, r)
		}
	}()
	return q.proc.Process(ctx, job)
}

// markRunning transitions queued -> running. Returns false when the record
// is gone or no longer queued; cancelled jobs never get here because Cancel
// removes them from the waiting list.
func (q *Queue) markRunning(jobID string) (model.Job, bool) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobStatusQueued {
		q.mu.Unlock()
		return model.Job{}, false
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	q.running++
	snapshot := *job
	q.mu.Unlock()

	q.mirrorJob(&snapshot)
	q.notifyStatus(jobID, model.JobStatusRunning, "running segmentation")
	return snapshot, true
}

func (q *Queue) complete(jobID string, out *Output) {
	data, err := json.Marshal(out.MaskSet)
	if err != nil {
		q.fail(jobID, fmt.Errorf("%w: marshal mask set: %v", runner.ErrModel, err))
		return
	}

	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusSucceeded
	job.Result = data
	job.MaskSetKey = out.Key
	job.CompletedAt = &now
	q.running--
	snapshot := *job
	q.mu.Unlock()

	q.mirrorJob(&snapshot)
	if q.notify != nil {
		q.notify.JobComplete(jobID, out.MaskSet)
	}
	q.log.Info("job succeeded",
		zap.String("jobId", jobID),
		zap.Int("masks", len(out.MaskSet.Masks)),
		zap.Duration("elapsed", now.Sub(snapshot.CreatedAt)),
	)
}

func (q *Queue) fail(jobID string, cause error) {
	kind := model.FailureModelError
	code := response.CodeModelError
	if errors.Is(cause, runner.ErrResourceExhausted) {
		kind = model.FailureResourceExhausted
		code = response.CodeResourceExhausted
	}

	msg := cause.Error()
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Error = &msg
	job.FailureKind = kind
	job.CompletedAt = &now
	q.running--
	snapshot := *job
	q.mu.Unlock()

	q.mirrorJob(&snapshot)
	if q.notify != nil {
		q.notify.JobError(jobID, code, msg)
	}
	q.log.Error("job failed",
		zap.String("jobId", jobID),
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)
}

func (q *Queue) notifyStatus(jobID string, status model.JobStatus, step string) {
	if q.notify != nil {
		q.notify.JobStatus(jobID, status, step)
	}
}

func (q *Queue) mirrorJob(job *model.Job) {
	if q.mirror == nil {
		return
	}
	q.mirror.Set(context.Background(), job)
}

// janitor prunes terminal job records past the retention window.
func (q *Queue) janitor() {
	defer q.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-q.quit:
			return
		case <-ticker.C:
			q.prune(time.Now().Add(-q.cfg.Retention))
		}
	}
}

func (q *Queue) prune(cutoff time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.jobs {
		if !job.Status.Terminal() {
			continue
		}
		at := job.CompletedAt
		if at == nil {
			at = job.CanceledAt
		}
		if at != nil && at.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		q.log.Info("pruned terminal jobs", zap.Int("count", removed))
	}
}
