package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vexport/internal/media/probe"
	"vexport/internal/presets"
	"vexport/internal/transcoder"
)

// Status represents the lifecycle of an export job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusAwaitingSource Status = "awaiting_source"
	StatusExporting      Status = "exporting"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusAwaitingSource,
	StatusExporting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Label returns the human status shown in job lists.
func (s Status) Label() string {
	switch s {
	case StatusQueued:
		return "Waiting on Queue"
	case StatusAwaitingSource:
		return "Downloading asset data"
	case StatusExporting:
		return "Exporting"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

func isValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusAwaitingSource || to == StatusFailed || to == StatusCancelled
	case StatusAwaitingSource:
		return to == StatusExporting || to == StatusFailed || to == StatusCancelled
	case StatusExporting:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// ErrInvalidTransition is returned when a status change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// Job is one preset export of one source. Identity fields are immutable;
// everything else is read through accessors or Snapshot.
type Job struct {
	ID           string
	Source       transcoder.Source
	Preset       presets.ID
	Destination  string
	OutputFormat string

	onProgress func(float64)
	done       chan struct{}

	mu               sync.RWMutex
	status           Status
	progress         float64
	timeToAcquire    time.Duration
	timeToExport     time.Duration
	exportStartedAt  time.Time
	resultByteSize   *int64
	resultDimensions *probe.Dimensions
	lastErr          error
	createdAt        time.Time
	startedAt        time.Time
	finishedAt       time.Time
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithProgressObserver registers fn to receive progress values while the job
// is exporting. Calls arrive on one goroutine in non-decreasing order and
// stop before the job becomes terminal.
func WithProgressObserver(fn func(float64)) JobOption {
	return func(j *Job) { j.onProgress = fn }
}

// WithOutputFormat overrides the container format. Empty keeps the source's.
func WithOutputFormat(format string) JobOption {
	return func(j *Job) {
		if f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")); f != "" {
			j.OutputFormat = f
		}
	}
}

// WithJobID overrides the generated identifier.
func WithJobID(id string) JobOption {
	return func(j *Job) {
		if strings.TrimSpace(id) != "" {
			j.ID = strings.TrimSpace(id)
		}
	}
}

// NewJob creates a queued job.
func NewJob(source transcoder.Source, preset presets.ID, destination string, opts ...JobOption) (*Job, error) {
	if strings.TrimSpace(source.Path) == "" {
		return nil, errors.New("new job: source path is empty")
	}
	if strings.TrimSpace(destination) == "" {
		return nil, errors.New("new job: destination is empty")
	}
	if preset == "" {
		return nil, errors.New("new job: preset is empty")
	}
	j := &Job{
		ID:          uuid.NewString(),
		Source:      source,
		Preset:      preset,
		Destination: destination,
		done:        make(chan struct{}),
		status:      StatusQueued,
		createdAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.OutputFormat == "" {
		j.OutputFormat = source.Format
	}
	return j, nil
}

// Snapshot is a consistent copy of a job's mutable state.
type Snapshot struct {
	ID                  string
	Source              transcoder.Source
	Preset              presets.ID
	Destination         string
	OutputFormat        string
	Status              Status
	Progress            float64
	TimeToAcquireSource time.Duration
	TimeToExport        time.Duration
	ResultByteSize      *int64
	ResultDimensions    *probe.Dimensions
	LastError           error
	CreatedAt           time.Time
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Snapshot returns a torn-free copy of the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{
		ID:                  j.ID,
		Source:              j.Source,
		Preset:              j.Preset,
		Destination:         j.Destination,
		OutputFormat:        j.OutputFormat,
		Status:              j.status,
		Progress:            j.progressLocked(),
		TimeToAcquireSource: j.timeToAcquire,
		TimeToExport:        j.timeToExport,
		LastError:           j.lastErr,
		CreatedAt:           j.createdAt,
		StartedAt:           j.startedAt,
		FinishedAt:          j.finishedAt,
	}
	if j.resultByteSize != nil {
		size := *j.resultByteSize
		s.ResultByteSize = &size
	}
	if j.resultDimensions != nil {
		dims := *j.resultDimensions
		s.ResultDimensions = &dims
	}
	return s
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the export fraction in [0,1]; 0 unless exporting.
func (j *Job) Progress() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progressLocked()
}

func (j *Job) progressLocked() float64 {
	if j.status != StatusExporting {
		return 0
	}
	return j.progress
}

// Err returns the last error, set when the job failed or was cancelled.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastErr
}

// Done closes when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j.Status().IsTerminal()
}

func (j *Job) transitionLocked(to Status) error {
	if !isValidTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	if to.IsTerminal() {
		close(j.done)
	}
	return nil
}

// markAwaitingSource moves a popped job into source acquisition.
func (j *Job) markAwaitingSource(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusAwaitingSource); err != nil {
		return err
	}
	j.startedAt = now
	return nil
}

// markExporting records the acquisition duration and starts the export clock.
func (j *Job) markExporting(acquire time.Duration, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusExporting); err != nil {
		return err
	}
	j.timeToAcquire = acquire
	j.exportStartedAt = now
	j.progress = 0
	return nil
}

// updateProgress applies a clamped monotonic max and returns the stored
// value. ok is false when the job is not exporting.
func (j *Job) updateProgress(p float64) (float64, bool) {
	p = clampFraction(p)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusExporting {
		return 0, false
	}
	if p > j.progress {
		j.progress = p
	}
	return j.progress, true
}

func (j *Job) notifyProgress(p float64) {
	if j.onProgress != nil {
		j.onProgress(p)
	}
}

// complete records the probed results.
func (j *Job) complete(size int64, dims *probe.Dimensions, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusExporting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusCompleted)
	}
	j.stopClockLocked(now)
	j.resultByteSize = &size
	if dims != nil {
		d := *dims
		j.resultDimensions = &d
	}
	j.finishedAt = now
	return j.transitionLocked(StatusCompleted)
}

// fail records err and moves the job to failed.
func (j *Job) fail(err error, now time.Time) error {
	return j.finish(StatusFailed, err, now)
}

// cancel records err and moves the job to cancelled.
func (j *Job) cancel(err error, now time.Time) error {
	return j.finish(StatusCancelled, err, now)
}

func (j *Job) finish(to Status, err error, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !isValidTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.stopClockLocked(now)
	j.lastErr = err
	j.finishedAt = now
	return j.transitionLocked(to)
}

func (j *Job) stopClockLocked(now time.Time) {
	if j.status == StatusExporting && !j.exportStartedAt.IsZero() {
		j.timeToExport = now.Sub(j.exportStartedAt)
	}
}

func clampFraction(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
