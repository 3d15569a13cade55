// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect executes ffprobe and returns a parsed Result; helper methods on
// Result expose the first video stream, frame dimensions, duration, and size.
package ffprobe
