// Package probe answers the metadata questions the export queue and CLI ask of
// a file: frame dimensions, byte size, and whether it is a video or an image.
//
// Video dimensions come from ffprobe's first video stream (rotation is not
// applied). Images are decoded with image.DecodeConfig so no external tool is
// needed for them.
package probe
