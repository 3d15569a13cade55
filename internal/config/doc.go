// Package config loads, normalizes, and validates vexport configuration.
//
// Configuration lives in TOML. Load resolves an explicit path, then
// ~/.config/vexport/config.toml, then ./vexport.toml, falling back to Default
// when no file exists. Paths are tilde-expanded and made absolute; engine
// binaries fall back to VEXPORT_FFMPEG / VEXPORT_FFPROBE.
package config
