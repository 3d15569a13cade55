// Package services defines shared utilities consumed by the export queue and
// the transcoding engines.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, preset names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (source unavailable, transcode failed, destination unallocatable,
//     cancelled) without losing the underlying cause.
//
// Engines live in subpackages (ffmpeg, drapto) and only depend on this package
// and internal/transcoder.
package services
