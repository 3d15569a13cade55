// Package session fans one source out into one export job per preset and
// summarises the finished jobs.
//
// A Session owns the ordered list of its jobs; the order is the order in
// which presets were requested and is the order used for listings and the
// CSV report. Jobs are handed to a shared queue.Queue, so sessions never run
// transcodes themselves.
package session
