// Package preflight provides readiness checks for the binaries and
// filesystem paths vexport depends on.
//
// The export command runs RunAll before queueing any work so a missing
// ffmpeg or an unwritable staging directory fails fast instead of failing
// every job. The status command renders the same results.
package preflight
