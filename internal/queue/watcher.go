package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vexport/internal/logging"
	"vexport/internal/transcoder"
)

// watcher samples a handle's progress into a job while it is exporting.
type watcher struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startWatcher begins sampling. The goroutine exits when stop is called,
// when ctx ends, or when the handle reports Done.
func startWatcher(ctx context.Context, job *Job, h transcoder.Handle, interval time.Duration, logger *slog.Logger) *watcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{cancel: cancel}
	sampler := logging.NewProgressSampler(10)

	refresh := func() {
		p, ok := job.updateProgress(h.Progress())
		if !ok {
			return
		}
		if sampler.ShouldLog(p, string(StatusExporting)) {
			logger.Debug("export progress", logging.Percent("percent", p))
		}
		job.notifyProgress(p)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		changes := h.StatusChanges()

		refresh()
		for {
			select {
			case <-wctx.Done():
				return
			case <-h.Done():
				refresh()
				return
			case <-ticker.C:
				refresh()
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				refresh()
			}
		}
	}()
	return w
}

// stop tears the watcher down and waits for its goroutine, so no progress
// callback can run after stop returns.
func (w *watcher) stop() {
	w.cancel()
	w.wg.Wait()
}
