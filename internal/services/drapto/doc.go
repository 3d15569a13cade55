// Package drapto integrates the Drapto Go library as an export engine for the
// AV1 preset.
//
// Engine runs EncodeWithReporter in a goroutine into a temp directory beside
// the destination and moves the encoded file into place on success. The
// reporter adapter translates Drapto's Reporter callbacks into handle progress
// and status-change notifications.
package drapto
