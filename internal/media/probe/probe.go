package probe

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"vexport/internal/logging"
	"vexport/internal/media/ffprobe"
)

// DefaultMimeType is returned when no type can be derived from the extension.
const DefaultMimeType = "application/octet-stream"

func init() {
	// The builtin table only knows web types; register the containers we export.
	for ext, typ := range map[string]string{
		".mp4":  "video/mp4",
		".m4v":  "video/x-m4v",
		".mov":  "video/quicktime",
		".mkv":  "video/x-matroska",
		".webm": "video/webm",
		".avi":  "video/x-msvideo",
		".heic": "image/heic",
	} {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// MediaProbe is the subset the export queue needs to confirm a finished job.
type MediaProbe interface {
	Dimensions(ctx context.Context, path string) (Dimensions, bool)
	ByteSize(path string) (int64, bool)
}

type inspectFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Prober implements MediaProbe over ffprobe and the image decoders.
type Prober struct {
	binary  string
	inspect inspectFunc
	logger  *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger routes probe diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a Prober that shells out to the given ffprobe binary.
func New(ffprobeBinary string, opts ...Option) *Prober {
	p := &Prober{binary: ffprobeBinary, inspect: ffprobe.Inspect, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "probe")
	return p
}

// Dimensions reports the pixel size of the file at path.
func (p *Prober) Dimensions(ctx context.Context, path string) (Dimensions, bool) {
	if IsImage(path) {
		return imageDimensions(path)
	}
	result, err := p.inspect(ctx, p.binary, path)
	if err != nil {
		p.logger.Debug("ffprobe dimensions failed", logging.String("path", path), logging.Error(err))
		return Dimensions{}, false
	}
	w, h, ok := result.Dimensions()
	if !ok {
		return Dimensions{}, false
	}
	return Dimensions{Width: w, Height: h}, true
}

// ByteSize reports the size of a readable regular file.
func (p *Prober) ByteSize(path string) (int64, bool) {
	return ByteSize(path)
}

// IsVideo reports whether path is a video, by MIME type first and by the
// presence of a non-image video stream second.
func (p *Prober) IsVideo(ctx context.Context, path string) bool {
	if strings.HasPrefix(MimeType(path), "video/") {
		return true
	}
	if IsImage(path) {
		return false
	}
	result, err := p.inspect(ctx, p.binary, path)
	if err != nil {
		return false
	}
	return result.VideoStreamCount() > 0 && result.DurationSeconds() > 0
}

// IsImage reports whether the extension maps to an image MIME type.
func (p *Prober) IsImage(path string) bool {
	return IsImage(path)
}

// Info is the full probe summary shown by the CLI.
type Info struct {
	Path            string
	MimeType        string
	Kind            string
	Size            int64
	Dimensions      *Dimensions
	DurationSeconds float64
}

// Describe gathers everything the probe knows about path.
func (p *Prober) Describe(ctx context.Context, path string) (Info, error) {
	size, ok := ByteSize(path)
	if !ok {
		return Info{}, fmt.Errorf("probe %s: not a readable regular file", path)
	}
	info := Info{Path: path, MimeType: MimeType(path), Size: size, Kind: "other"}
	switch {
	case IsImage(path):
		info.Kind = "image"
	case p.IsVideo(ctx, path):
		info.Kind = "video"
		if result, err := p.inspect(ctx, p.binary, path); err == nil {
			info.DurationSeconds = result.DurationSeconds()
		}
	}
	if dims, ok := p.Dimensions(ctx, path); ok {
		info.Dimensions = &dims
	}
	return info, nil
}

// ByteSize reports the size of path when it is a regular file that can be opened.
func ByteSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	_ = f.Close()
	return info.Size(), true
}

// IsImage reports whether the extension maps to an image MIME type.
func IsImage(path string) bool {
	return strings.HasPrefix(MimeType(path), "image/")
}

// MimeType derives the MIME type from the extension, defaulting to
// application/octet-stream.
func MimeType(path string) string {
	typ := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if typ == "" {
		return DefaultMimeType
	}
	if base, _, err := mime.ParseMediaType(typ); err == nil {
		return base
	}
	return typ
}

func imageDimensions(path string) (Dimensions, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return Dimensions{}, false
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, true
}
