// Package queue runs export jobs one at a time in FIFO order.
//
// A Queue owns a single worker goroutine. Callers Enqueue, Cancel, and read
// snapshots without ever blocking on a transcode; the worker is the only
// goroutine that calls Transcoder.Begin or moves an owned job's status and
// timing. While a job is exporting, a watcher goroutine samples the handle's
// progress on a fixed cadence and refreshes immediately on status-change
// notifications. The watcher is stopped before the job's terminal transition
// is published, so progress observers never fire after a job finishes.
//
// Success is confirmed by probing the destination once after the transcoder
// reports completion. A missing output turns a reported success into a
// transcode failure. Jobs are never retried and failures never stop the
// queue.
package queue
