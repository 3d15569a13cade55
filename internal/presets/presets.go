// Package presets defines the export presets vexport knows about, their
// priority order, and the engine arguments each one maps to.
package presets

import (
	"fmt"
	"strings"
)

// ID names an export preset. Values carry the shared vendor prefix.
type ID string

// VendorPrefix is shared by every preset identifier and stripped for display.
const VendorPrefix = "ExportPreset"

const (
	Passthrough    ID = "ExportPresetPassthrough"
	HighestQuality ID = "ExportPresetHighestQuality"
	MediumQuality  ID = "ExportPresetMediumQuality"
	LowQuality     ID = "ExportPresetLowQuality"
	Res1920x1080   ID = "ExportPreset1920x1080"
	Res1280x720    ID = "ExportPreset1280x720"
	Res960x540     ID = "ExportPreset960x540"
	AV1            ID = "ExportPresetAV1"
)

// Engine names the transcoder family that serves a preset.
type Engine string

const (
	EngineFFmpeg Engine = "ffmpeg"
	EngineDrapto Engine = "drapto"
)

// Preset describes one export target.
type Preset struct {
	ID          ID
	Engine      Engine
	Description string
	// MaxWidth and MaxHeight bound the output frame; zero means source size.
	MaxWidth  int
	MaxHeight int
	// Args are the ffmpeg output options placed between the input and the
	// progress flags. Empty for non-ffmpeg engines.
	Args []string
}

var catalog = map[ID]Preset{
	Passthrough: {
		ID:          Passthrough,
		Engine:      EngineFFmpeg,
		Description: "stream copy, no re-encode",
		Args:        []string{"-map", "0", "-c", "copy"},
	},
	HighestQuality: {
		ID:          HighestQuality,
		Engine:      EngineFFmpeg,
		Description: "H.264 CRF 18, slow",
		Args:        x264Args("slow", 18, "192k"),
	},
	MediumQuality: {
		ID:          MediumQuality,
		Engine:      EngineFFmpeg,
		Description: "H.264 CRF 23, medium",
		Args:        x264Args("medium", 23, "128k"),
	},
	LowQuality: {
		ID:          LowQuality,
		Engine:      EngineFFmpeg,
		Description: "H.264 CRF 28, fast",
		Args:        x264Args("fast", 28, "96k"),
	},
	Res1920x1080: scaled(Res1920x1080, 1920, 1080),
	Res1280x720:  scaled(Res1280x720, 1280, 720),
	Res960x540:   scaled(Res960x540, 960, 540),
	AV1: {
		ID:          AV1,
		Engine:      EngineDrapto,
		Description: "AV1 via drapto (SVT-AV1)",
	},
}

var defaultOrder = []ID{
	Passthrough,
	HighestQuality,
	MediumQuality,
	LowQuality,
	Res1920x1080,
	Res1280x720,
	Res960x540,
}

func x264Args(speed string, crf int, audioBitrate string) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", speed,
		"-crf", fmt.Sprint(crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", audioBitrate,
	}
}

// scaled fits the source inside a bounding box without upscaling.
func scaled(id ID, width, height int) Preset {
	filter := fmt.Sprintf(
		"scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		width, height,
	)
	args := append([]string{"-vf", filter}, x264Args("medium", 21, "160k")...)
	return Preset{
		ID:          id,
		Engine:      EngineFFmpeg,
		Description: fmt.Sprintf("H.264 within %dx%d", width, height),
		MaxWidth:    width,
		MaxHeight:   height,
		Args:        args,
	}
}

// Default returns the built-in priority order, highest fidelity first.
func Default() []ID {
	return append([]ID(nil), defaultOrder...)
}

// All returns every known preset, the default order followed by optional ones.
func All() []ID {
	return append(Default(), AV1)
}

// Lookup returns the preset definition for id.
func Lookup(id ID) (Preset, bool) {
	p, ok := catalog[id]
	if !ok {
		return Preset{}, false
	}
	p.Args = append([]string(nil), p.Args...)
	return p, true
}

// Parse resolves a full or short preset name case-insensitively.
func Parse(value string) (ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("preset name is empty")
	}
	short := trimmed
	if len(short) >= len(VendorPrefix) && strings.EqualFold(short[:len(VendorPrefix)], VendorPrefix) {
		short = short[len(VendorPrefix):]
	}
	for _, id := range All() {
		if strings.EqualFold(id.DisplayName(), short) {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown preset %q", value)
}

// ParseList resolves a list of names, preserving order and dropping duplicates.
func ParseList(values []string) ([]ID, error) {
	seen := make(map[ID]struct{}, len(values))
	out := make([]ID, 0, len(values))
	for _, value := range values {
		id, err := Parse(value)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// DisplayName strips the vendor prefix: ExportPreset1280x720 -> 1280x720.
func (id ID) DisplayName() string {
	return strings.TrimPrefix(string(id), VendorPrefix)
}

func (id ID) String() string {
	return string(id)
}
