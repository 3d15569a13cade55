package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"vexport/internal/logging"
	"vexport/internal/media/probe"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

// DefaultProgressInterval is the watcher cadence when none is configured.
const DefaultProgressInterval = time.Second

// ErrQueueStopped is returned by Enqueue and Start after Stop.
var ErrQueueStopped = errors.New("queue stopped")

// Queue runs export jobs one at a time in FIFO order.
type Queue struct {
	transcoder transcoder.Transcoder
	probe      probe.MediaProbe
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
	metrics    *Metrics
	cleanup    func(dest string) error

	mu           sync.Mutex
	pending      []*Job
	active       *Job
	activeCancel context.CancelFunc
	activeHandle transcoder.Handle
	wake         chan struct{}
	idle         chan struct{}
	idleClosed   bool
	running      bool
	stopped      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithProgressInterval sets the watcher sampling cadence.
func WithProgressInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// WithClock overrides the time source used for job timing.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithMetrics records queue activity into m.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithCleanup replaces the removal of partial output for failed and
// cancelled jobs. The default removes the destination file.
func WithCleanup(fn func(dest string) error) Option {
	return func(q *Queue) {
		if fn != nil {
			q.cleanup = fn
		}
	}
}

// New constructs an idle queue. The worker starts on Start or on the first
// Enqueue.
func New(t transcoder.Transcoder, p probe.MediaProbe, opts ...Option) *Queue {
	q := &Queue{
		transcoder: t,
		probe:      p,
		logger:     logging.NewNop(),
		interval:   DefaultProgressInterval,
		now:        time.Now,
		cleanup:    removeFile,
		wake:       make(chan struct{}, 1),
		idle:       make(chan struct{}),
		idleClosed: true,
	}
	close(q.idle)
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.NewComponentLogger(q.logger, "queue")
	return q
}

// Start launches the worker if it is not already running.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startLocked(ctx)
}

func (q *Queue) startLocked(ctx context.Context) error {
	if q.stopped {
		return ErrQueueStopped
	}
	if q.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go q.run(runCtx)
	return nil
}

// Stop cancels the active job, marks pending jobs cancelled, and waits for
// the worker to exit. Stop is idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.drainLocked("queue stopped")
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Enqueue appends job at the tail and wakes the worker. It never blocks on
// a running transcode.
func (q *Queue) Enqueue(job *Job) error {
	if job == nil {
		return errors.New("enqueue: nil job")
	}
	if s := job.Status(); s != StatusQueued {
		return errors.New("enqueue: job " + job.ID + " is " + string(s))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	for _, existing := range q.pending {
		if existing == job {
			return errors.New("enqueue: job " + job.ID + " already pending")
		}
	}
	q.pending = append(q.pending, job)
	if q.idleClosed {
		q.idle = make(chan struct{})
		q.idleClosed = false
	}
	q.metrics.setDepth(len(q.pending), q.active != nil)
	if err := q.startLocked(context.Background()); err != nil {
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.logger.Debug("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldPreset, job.Preset.DisplayName()),
		logging.Int("pending", len(q.pending)),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)
	return nil
}

// Cancel requests cancellation of job. A pending job is removed and marked
// cancelled without ever reaching the transcoder. The active job is
// cancelled cooperatively and marked cancelled once the transcoder
// acknowledges. Terminal or unknown jobs are left alone. The result reports
// whether a cancellation was requested.
func (q *Queue) Cancel(job *Job) bool {
	if job == nil {
		return false
	}
	q.mu.Lock()
	for i, pending := range q.pending {
		if pending != job {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		err := services.Wrap(services.ErrCancelled, "queue", "cancel", "cancelled before start", nil)
		if cerr := job.cancel(err, q.now()); cerr != nil {
			q.logger.Warn("cancel pending job failed", logging.Error(cerr))
		}
		q.metrics.observeFinished(job.Preset.DisplayName(), StatusCancelled, services.Kind(err), 0)
		q.metrics.setDepth(len(q.pending), q.active != nil)
		q.updateIdleLocked()
		q.mu.Unlock()
		q.logger.Info("pending job cancelled",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldPreset, job.Preset.DisplayName()),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		return true
	}
	if q.active == job && !job.IsTerminal() {
		cancel := q.activeCancel
		h := q.activeHandle
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if h != nil {
			h.Cancel()
		}
		return true
	}
	q.mu.Unlock()
	return false
}

// Pending returns the waiting jobs in FIFO order.
func (q *Queue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job(nil), q.pending...)
}

// Active returns the job currently owned by the worker, or nil.
func (q *Queue) Active() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// State is a point-in-time view of the queue.
type State struct {
	Active  *Snapshot
	Pending []Snapshot
}

// Snapshot returns the active job and pending jobs as copies.
func (q *Queue) Snapshot() State {
	q.mu.Lock()
	active := q.active
	pending := append([]*Job(nil), q.pending...)
	q.mu.Unlock()

	var st State
	if active != nil {
		s := active.Snapshot()
		st.Active = &s
	}
	st.Pending = make([]Snapshot, 0, len(pending))
	for _, job := range pending {
		st.Pending = append(st.Pending, job.Snapshot())
	}
	return st
}

// WaitIdle blocks until nothing is pending or active, or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 && q.active == nil {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) updateIdleLocked() {
	if len(q.pending) == 0 && q.active == nil && !q.idleClosed {
		close(q.idle)
		q.idleClosed = true
	}
}

// drainLocked cancels every pending job.
func (q *Queue) drainLocked(reason string) {
	if len(q.pending) == 0 {
		return
	}
	now := q.now()
	for _, job := range q.pending {
		err := services.Wrap(services.ErrCancelled, "queue", "stop", reason, nil)
		if cerr := job.cancel(err, now); cerr == nil {
			q.metrics.observeFinished(job.Preset.DisplayName(), StatusCancelled, services.Kind(err), 0)
		}
	}
	q.logger.Info("pending jobs cancelled",
		logging.Int("count", len(q.pending)),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "queue_drained"),
	)
	q.pending = nil
	q.metrics.setDepth(0, q.active != nil)
	q.updateIdleLocked()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.stopped = true
		q.drainLocked("worker exited")
		q.mu.Unlock()
	}()

	q.logger.Debug("queue worker started", logging.String(logging.FieldEventType, "worker_started"))
	for {
		job, jobCtx, cancel := q.next(ctx)
		if job == nil {
			q.logger.Debug("queue worker stopped", logging.String(logging.FieldEventType, "worker_stopped"))
			return
		}
		q.process(ctx, jobCtx, job)
		cancel()

		q.mu.Lock()
		q.active = nil
		q.activeCancel = nil
		q.activeHandle = nil
		q.metrics.setDepth(len(q.pending), false)
		q.updateIdleLocked()
		q.mu.Unlock()
	}
}

// next pops the head of the queue, sleeping on the wake channel while the
// queue is empty. It returns a nil job once ctx ends.
func (q *Queue) next(ctx context.Context) (*Job, context.Context, context.CancelFunc) {
	for {
		if ctx.Err() != nil {
			return nil, nil, nil
		}
		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			jobCtx, cancel := context.WithCancel(ctx)
			q.active = job
			q.activeCancel = cancel
			q.metrics.setDepth(len(q.pending), true)
			q.mu.Unlock()
			return job, jobCtx, cancel
		}
		q.updateIdleLocked()
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, nil
		case <-q.wake:
		}
	}
}

// process drives one job from queued to a terminal status.
func (q *Queue) process(ctx, jobCtx context.Context, job *Job) {
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithPreset(jobCtx, job.Preset.DisplayName())
	logger := logging.WithContext(jobCtx, q.logger)
	preset := job.Preset.DisplayName()

	if err := job.markAwaitingSource(q.now()); err != nil {
		logger.Warn("job skipped", logging.Error(err))
		return
	}
	logger.Info("export started",
		logging.String("source", job.Source.Path),
		logging.String("destination", job.Destination),
		logging.String(logging.FieldEventType, "job_started"),
	)

	beginAt := q.now()
	h, err := q.transcoder.Begin(jobCtx, transcoder.Request{
		JobID:        job.ID,
		Source:       job.Source,
		Preset:       job.Preset,
		Destination:  job.Destination,
		OutputFormat: job.OutputFormat,
	})
	acquired := q.now()
	acquire := acquired.Sub(beginAt)
	q.metrics.observeAcquire(acquire)

	if err != nil {
		if jobCtx.Err() != nil {
			q.finishCancelled(job, err, acquired, logger)
			return
		}
		if !errors.Is(err, services.ErrSourceUnavailable) {
			err = services.Wrap(services.ErrSourceUnavailable, "queue", "begin", job.Source.Path, err)
		}
		q.finishFailed(job, err, acquired, logger)
		return
	}

	q.mu.Lock()
	q.activeHandle = h
	q.mu.Unlock()
	if jobCtx.Err() != nil {
		h.Cancel()
	}

	if err := job.markExporting(acquire, acquired); err != nil {
		logger.Error("job state diverged", logging.Error(err))
		h.Cancel()
		<-h.Done()
		return
	}

	w := startWatcher(jobCtx, job, h, q.interval, logger)
	select {
	case <-h.Done():
	case <-jobCtx.Done():
		h.Cancel()
		<-h.Done()
	}
	ended := q.now()
	w.stop()

	switch {
	case jobCtx.Err() != nil:
		q.finishCancelled(job, h.Err(), ended, logger)
	case h.Err() != nil:
		err := h.Err()
		if !errors.Is(err, services.ErrTranscodeFailed) {
			err = services.Wrap(services.ErrTranscodeFailed, "queue", "export", preset, err)
		}
		q.finishFailed(job, err, ended, logger)
	default:
		q.confirm(ctx, job, ended, logger)
	}
}

// confirm probes the destination once; a reported success without readable
// output is a transcode failure.
func (q *Queue) confirm(ctx context.Context, job *Job, ended time.Time, logger *slog.Logger) {
	size, ok := q.probe.ByteSize(job.Destination)
	if !ok {
		err := services.Wrap(services.ErrTranscodeFailed, "queue", "confirm output", job.Destination+" missing or unreadable", nil)
		q.finishFailed(job, err, ended, logger)
		return
	}
	var dims *probe.Dimensions
	if d, ok := q.probe.Dimensions(ctx, job.Destination); ok {
		dims = &d
	} else {
		logger.Debug("output dimensions unavailable", logging.String("destination", job.Destination))
	}
	if err := job.complete(size, dims, ended); err != nil {
		logger.Error("complete job failed", logging.Error(err))
		return
	}
	snap := job.Snapshot()
	q.metrics.observeFinished(job.Preset.DisplayName(), StatusCompleted, "none", snap.TimeToExport)
	attrs := []logging.Attr{
		logging.Int64("bytes", size),
		logging.Duration("time_to_export", snap.TimeToExport),
		logging.Duration("time_to_acquire_source", snap.TimeToAcquireSource),
		logging.String(logging.FieldEventType, "job_completed"),
	}
	if dims != nil {
		attrs = append(attrs, logging.String("dimensions", dims.String()))
	}
	logger.Info("export completed", logging.Args(attrs...)...)
}

func (q *Queue) finishFailed(job *Job, err error, now time.Time, logger *slog.Logger) {
	q.removePartial(job, logger)
	if ferr := job.fail(err, now); ferr != nil {
		logger.Error("fail job failed", logging.Error(ferr))
		return
	}
	snap := job.Snapshot()
	q.metrics.observeFinished(job.Preset.DisplayName(), StatusFailed, services.Kind(err), snap.TimeToExport)
	logging.ErrorWithContext(logger, "export failed", "job_failed",
		logging.Error(err),
		logging.String("kind", services.Kind(err)),
		logging.String(logging.FieldErrorHint, failureHint(err)),
	)
}

func (q *Queue) finishCancelled(job *Job, cause error, now time.Time, logger *slog.Logger) {
	q.removePartial(job, logger)
	err := cause
	if err == nil || !errors.Is(err, services.ErrCancelled) {
		err = services.Wrap(services.ErrCancelled, "queue", "cancel", "cancelled while running", cause)
	}
	if cerr := job.cancel(err, now); cerr != nil {
		logger.Error("cancel job failed", logging.Error(cerr))
		return
	}
	snap := job.Snapshot()
	q.metrics.observeFinished(job.Preset.DisplayName(), StatusCancelled, services.Kind(err), snap.TimeToExport)
	logger.Info("export cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
}

func (q *Queue) removePartial(job *Job, logger *slog.Logger) {
	if err := q.cleanup(job.Destination); err != nil {
		logging.WarnWithContext(logger, "partial output cleanup failed", "cleanup_failed",
			logging.String("destination", job.Destination),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the file manually or run staging clean"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrSourceUnavailable):
		return "check that the source exists and is a readable media file"
	case errors.Is(err, services.ErrTranscodeFailed):
		return "run with logging.level=debug to see transcoder output"
	default:
		return "check logs for details"
	}
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
