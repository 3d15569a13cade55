package transcoder

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// RunHandle is a ready-made Handle for engines that run work in a goroutine.
// The engine reports through SetProgress, NotifyChange, and Finish; the queue
// reads through the Handle methods.
type RunHandle struct {
	cancel   context.CancelFunc
	progress atomic.Uint64
	changes  chan struct{}
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

// NewRunHandle returns a handle whose Cancel invokes cancel. Cancel may be nil.
func NewRunHandle(cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		cancel:  cancel,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetProgress stores the engine's estimate, clamped to [0,1].
func (h *RunHandle) SetProgress(fraction float64) {
	h.progress.Store(math.Float64bits(clamp(fraction)))
}

// NotifyChange signals a status change without blocking. Pending
// notifications coalesce.
func (h *RunHandle) NotifyChange() {
	select {
	case h.changes <- struct{}{}:
	default:
	}
}

// Finish records the terminal outcome and closes Done. Only the first call
// has any effect.
func (h *RunHandle) Finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		if err == nil {
			h.SetProgress(1)
		}
		close(h.done)
		h.NotifyChange()
	})
}

// Progress implements Handle.
func (h *RunHandle) Progress() float64 {
	return math.Float64frombits(h.progress.Load())
}

// Cancel implements Handle.
func (h *RunHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Done implements Handle.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err implements Handle.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// StatusChanges implements Handle.
func (h *RunHandle) StatusChanges() <-chan struct{} {
	return h.changes
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var _ Handle = (*RunHandle)(nil)
