// Package transcoder defines the contract between the export queue and the
// engines that actually produce output files.
//
// A Transcoder starts work in Begin and hands back a Handle. The handle is the
// only channel through which the queue observes progress and completion:
// Progress is sampled on a fixed cadence, StatusChanges (optional) prompts an
// immediate refresh, and Done closes exactly once when the run reaches a
// terminal state. Err is meaningful only after Done is closed.
package transcoder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"vexport/internal/presets"
)

// Source identifies the asset being exported.
type Source struct {
	Path string
	// Format is the detected container identifier, normally the file extension
	// without the dot.
	Format string
}

// NewSource builds a Source whose format is derived from the path extension.
func NewSource(path string) Source {
	return Source{Path: path, Format: FormatFromPath(path)}
}

// Name returns the base file name of the source.
func (s Source) Name() string {
	return filepath.Base(s.Path)
}

// FormatFromPath returns the lowercase extension without the dot.
func FormatFromPath(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Request describes one export run.
type Request struct {
	JobID        string
	Source       Source
	Preset       presets.ID
	Destination  string
	OutputFormat string
}

// Transcoder starts export runs.
type Transcoder interface {
	// Begin prepares the source and starts the run. A returned error means the
	// source could not be obtained; no handle exists in that case.
	Begin(ctx context.Context, req Request) (Handle, error)
}

// Handle is a running export.
type Handle interface {
	// Progress reports the engine's current estimate in [0,1].
	Progress() float64
	// Cancel requests a cooperative abort. Done still closes afterwards.
	Cancel()
	// Done closes once the run is terminal.
	Done() <-chan struct{}
	// Err reports the terminal failure, nil on success. Valid after Done.
	Err() error
	// StatusChanges delivers a value whenever the engine's internal state
	// flips. A nil channel means the engine does not publish changes.
	StatusChanges() <-chan struct{}
}

// Func adapts a function to the Transcoder interface.
type Func func(ctx context.Context, req Request) (Handle, error)

// Begin calls f.
func (f Func) Begin(ctx context.Context, req Request) (Handle, error) {
	return f(ctx, req)
}

// Router dispatches a request to the engine registered for its preset.
type Router struct {
	engines  map[presets.ID]Transcoder
	fallback Transcoder
}

// NewRouter returns a Router that uses fallback for presets without a
// dedicated engine. Fallback may be nil.
func NewRouter(fallback Transcoder) *Router {
	return &Router{engines: make(map[presets.ID]Transcoder), fallback: fallback}
}

// Register binds an engine to the given presets.
func (r *Router) Register(engine Transcoder, ids ...presets.ID) {
	for _, id := range ids {
		r.engines[id] = engine
	}
}

// Supports reports whether some engine will serve id.
func (r *Router) Supports(id presets.ID) bool {
	if _, ok := r.engines[id]; ok {
		return true
	}
	return r.fallback != nil
}

// Begin implements Transcoder.
func (r *Router) Begin(ctx context.Context, req Request) (Handle, error) {
	engine, ok := r.engines[req.Preset]
	if !ok {
		engine = r.fallback
	}
	if engine == nil {
		return nil, fmt.Errorf("no engine registered for preset %s", req.Preset)
	}
	return engine.Begin(ctx, req)
}
