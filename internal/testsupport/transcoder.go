package testsupport

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"vexport/internal/media/probe"
	"vexport/internal/presets"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

// Script describes how FakeTranscoder plays out one run.
type Script struct {
	// BeginErr fails Begin itself, as if the source could not be obtained.
	BeginErr error
	// BeginDelay is spent inside Begin before the handle is returned.
	BeginDelay time.Duration
	// Steps are progress fractions published one per StepDelay.
	Steps     []float64
	StepDelay time.Duration
	// Size is the number of bytes written to the destination on success.
	Size int64
	// Err is the terminal error reported through the handle.
	Err error
	// Block keeps the run alive until it is cancelled.
	Block bool
	// SkipOutput reports success without writing the destination.
	SkipOutput bool
}

// FakeTranscoder is a scripted transcoder.Transcoder for queue and session
// tests. Scripts are chosen by preset; Default covers the rest.
type FakeTranscoder struct {
	Default Script

	mu        sync.Mutex
	scripts   map[presets.ID]Script
	calls     []transcoder.Request
	running   int
	maxActive int
}

// NewFakeTranscoder returns a transcoder that succeeds immediately with a
// one-byte output unless told otherwise.
func NewFakeTranscoder() *FakeTranscoder {
	return &FakeTranscoder{
		Default: Script{Size: 1},
		scripts: make(map[presets.ID]Script),
	}
}

// Script assigns a script to a preset.
func (f *FakeTranscoder) Script(id presets.ID, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = s
}

// Calls returns the requests seen by Begin, in order.
func (f *FakeTranscoder) Calls() []transcoder.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcoder.Request(nil), f.calls...)
}

// MaxConcurrent reports the largest number of runs observed at once.
func (f *FakeTranscoder) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Begin implements transcoder.Transcoder.
func (f *FakeTranscoder) Begin(ctx context.Context, req transcoder.Request) (transcoder.Handle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	script, ok := f.scripts[req.Preset]
	if !ok {
		script = f.Default
	}
	f.mu.Unlock()

	if script.BeginDelay > 0 {
		select {
		case <-time.After(script.BeginDelay):
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrCancelled, "fake", "begin", "cancelled", ctx.Err())
		}
	}
	if script.BeginErr != nil {
		return nil, script.BeginErr
	}

	f.mu.Lock()
	f.running++
	if f.running > f.maxActive {
		f.maxActive = f.running
	}
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h := transcoder.NewRunHandle(cancel)
	go func() {
		defer cancel()
		h.Finish(f.play(runCtx, h, req, script))
	}()
	return h, nil
}

func (f *FakeTranscoder) play(ctx context.Context, h *transcoder.RunHandle, req transcoder.Request, s Script) error {
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()
	cancelled := func() error {
		return services.Wrap(services.ErrCancelled, "fake", "export", "cancelled", ctx.Err())
	}
	for _, step := range s.Steps {
		select {
		case <-ctx.Done():
			return cancelled()
		case <-time.After(s.StepDelay):
		}
		h.SetProgress(step)
		h.NotifyChange()
	}
	if s.Block {
		<-ctx.Done()
		return cancelled()
	}
	if s.Err != nil {
		return s.Err
	}
	if s.SkipOutput {
		return nil
	}
	if err := os.WriteFile(req.Destination, make([]byte, s.Size), 0o644); err != nil {
		return services.Wrap(services.ErrTranscodeFailed, "fake", "write output", req.Destination, err)
	}
	return nil
}

// FakeProbe is a probe.MediaProbe that stats real files for size and serves
// dimensions from a table.
type FakeProbe struct {
	mu          sync.Mutex
	dims        map[string]probe.Dimensions
	defaultDims *probe.Dimensions
}

// NewFakeProbe returns a probe that reports def for every path without an
// explicit entry. A zero def reports dimensions as unavailable.
func NewFakeProbe(def probe.Dimensions) *FakeProbe {
	p := &FakeProbe{dims: make(map[string]probe.Dimensions)}
	if def.Width > 0 && def.Height > 0 {
		p.defaultDims = &def
	}
	return p
}

// Set records dimensions for path.
func (p *FakeProbe) Set(path string, d probe.Dimensions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dims[path] = d
}

// Dimensions implements probe.MediaProbe.
func (p *FakeProbe) Dimensions(_ context.Context, path string) (probe.Dimensions, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.dims[path]; ok {
		return d, true
	}
	if p.defaultDims != nil {
		return *p.defaultDims, true
	}
	return probe.Dimensions{}, false
}

// ByteSize implements probe.MediaProbe.
func (p *FakeProbe) ByteSize(path string) (int64, bool) {
	return probe.ByteSize(path)
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, msg)
}

// ErrScripted is a ready-made terminal error for failing scripts.
var ErrScripted = services.Wrap(services.ErrTranscodeFailed, "fake", "export", "scripted failure", errors.New("boom"))
