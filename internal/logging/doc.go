// Package logging assembles structured slog loggers and formatting helpers used
// across vexport.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so queue and engine code can tag log lines
// with job IDs, presets, and correlation IDs. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
