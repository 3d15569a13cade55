package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"vexport/internal/logging"
	"vexport/internal/presets"
	"vexport/internal/queue"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

// Allocator hands out fresh destination paths.
type Allocator interface {
	Allocate(filename string) (string, error)
}

// Queue is the subset of queue.Queue a session drives.
type Queue interface {
	Enqueue(job *queue.Job) error
	Cancel(job *queue.Job) bool
}

// ObserverFactory builds the progress observer for a new job. Returning nil
// leaves the job unobserved.
type ObserverFactory func(preset presets.ID) func(float64)

// Session is one export request: a source and the jobs created for it.
type Session struct {
	queue        Queue
	allocator    Allocator
	presets      []presets.ID
	outputFormat string
	observers    ObserverFactory
	logger       *slog.Logger

	mu   sync.Mutex
	jobs []*queue.Job
}

// Option configures a Session.
type Option func(*Session)

// WithPresets sets the presets to export, in priority order.
func WithPresets(ids ...presets.ID) Option {
	return func(s *Session) {
		if len(ids) > 0 {
			s.presets = append([]presets.ID(nil), ids...)
		}
	}
}

// WithOutputFormat forces the container of every ffmpeg job. Empty keeps the
// source container.
func WithOutputFormat(format string) Option {
	return func(s *Session) {
		s.outputFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	}
}

// WithProgressObserverFactory attaches an observer to each job created.
func WithProgressObserverFactory(factory ObserverFactory) Option {
	return func(s *Session) { s.observers = factory }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty session feeding q.
func New(q Queue, allocator Allocator, opts ...Option) *Session {
	s := &Session{
		queue:     q,
		allocator: allocator,
		presets:   presets.Default(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "session")
	return s
}

// StartExport creates one job per preset for source and enqueues them in
// preset order. Presets whose destination cannot be allocated are skipped
// with a warning. It fails only when the source is unusable or no job could
// be created.
func (s *Session) StartExport(ctx context.Context, source transcoder.Source) ([]*queue.Job, error) {
	if strings.TrimSpace(source.Path) == "" {
		return nil, services.Wrap(services.ErrValidation, "session", "start export", "source path is empty", nil)
	}
	if source.Format == "" {
		source.Format = transcoder.FormatFromPath(source.Path)
	}
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("export session starting",
		logging.String("source", source.Path),
		logging.Int("presets", len(s.presets)),
		logging.String(logging.FieldEventType, "session_started"),
	)

	var (
		created []*queue.Job
		skipped []error
	)
	for _, id := range s.presets {
		if err := ctx.Err(); err != nil {
			return created, services.Wrap(services.ErrCancelled, "session", "start export", "interrupted", err)
		}
		format := s.formatFor(id, source)
		dest, err := s.allocator.Allocate(destinationName(source, format))
		if err != nil {
			skipped = append(skipped, err)
			logging.WarnWithContext(logger, "preset skipped", "preset_skipped",
				logging.String(logging.FieldPreset, id.DisplayName()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "free space or fix permissions on the staging directory"),
				logging.String(logging.FieldImpact, "preset will not be exported"),
			)
			continue
		}

		jobOpts := []queue.JobOption{queue.WithOutputFormat(format)}
		if s.observers != nil {
			if fn := s.observers(id); fn != nil {
				jobOpts = append(jobOpts, queue.WithProgressObserver(fn))
			}
		}
		job, err := queue.NewJob(source, id, dest, jobOpts...)
		if err != nil {
			return created, services.Wrap(services.ErrValidation, "session", "create job", id.DisplayName(), err)
		}

		if err := s.queue.Enqueue(job); err != nil {
			return created, fmt.Errorf("enqueue %s: %w", id.DisplayName(), err)
		}
		s.mu.Lock()
		s.jobs = append(s.jobs, job)
		s.mu.Unlock()
		created = append(created, job)
	}

	if len(created) == 0 {
		return nil, services.Wrap(services.ErrDestinationUnallocatable, "session", "start export",
			"no preset could be allocated", errors.Join(skipped...))
	}
	logger.Info("export session queued",
		logging.Int("jobs", len(created)),
		logging.Int("skipped", len(skipped)),
		logging.String(logging.FieldEventType, "session_queued"),
	)
	return created, nil
}

// formatFor picks the container for a preset: drapto always writes
// Matroska, ffmpeg follows the session override or the source.
func (s *Session) formatFor(id presets.ID, source transcoder.Source) string {
	if p, ok := presets.Lookup(id); ok && p.Engine == presets.EngineDrapto {
		return "mkv"
	}
	if s.outputFormat != "" {
		return s.outputFormat
	}
	return source.Format
}

func destinationName(source transcoder.Source, format string) string {
	name := source.Name()
	if format == "" || format == source.Format {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + format
}

// Jobs returns the session's jobs in creation order.
func (s *Session) Jobs() []*queue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*queue.Job(nil), s.jobs...)
}

// Cancel requests cancellation of every unfinished job and returns how many
// requests were issued.
func (s *Session) Cancel() int {
	n := 0
	for _, job := range s.Jobs() {
		if job.IsTerminal() {
			continue
		}
		if s.queue.Cancel(job) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("export session cancelled",
			logging.Int("jobs", n),
			logging.String(logging.FieldEventType, "session_cancelled"),
		)
	}
	return n
}

// Wait blocks until every job is terminal or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	for _, job := range s.Jobs() {
		select {
		case <-job.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Summary counts jobs by status.
func (s *Session) Summary() map[queue.Status]int {
	out := make(map[queue.Status]int)
	for _, job := range s.Jobs() {
		out[job.Status()]++
	}
	return out
}
