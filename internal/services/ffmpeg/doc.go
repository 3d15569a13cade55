// Package ffmpeg runs export presets through the ffmpeg CLI.
//
// Begin validates the source, probes its duration with ffprobe, and starts
// ffmpeg with -progress pipe:1 so progress arrives as key=value lines on
// stdout. Output goes to a hidden temp file beside the destination and is
// renamed into place only after ffmpeg exits cleanly.
package ffmpeg
