package drapto

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"vexport/internal/fileutil"
	"vexport/internal/logging"
	"vexport/internal/presets"
	"vexport/internal/services"
	"vexport/internal/transcoder"
)

// encodeFunc runs one encode and returns the produced file path.
type encodeFunc func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) (string, error)

// Engine implements transcoder.Transcoder using the Drapto library.
type Engine struct {
	encode encodeFunc
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an Engine backed by the Drapto library.
func New(opts ...Option) *Engine {
	e := &Engine{encode: libraryEncode, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "drapto")
	return e
}

func libraryEncode(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) (string, error) {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", err
	}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep); err != nil {
		return "", err
	}
	return encodedPath(inputPath, outputDir), nil
}

// encodedPath mirrors Drapto's naming: <stem>.mkv in the output directory.
func encodedPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(outputDir, stem+".mkv")
}

// Begin implements transcoder.Transcoder.
func (e *Engine) Begin(ctx context.Context, req transcoder.Request) (transcoder.Handle, error) {
	preset, ok := presets.Lookup(req.Preset)
	if !ok || preset.Engine != presets.EngineDrapto {
		return nil, services.Wrap(services.ErrValidation, "drapto", "preset", fmt.Sprintf("%s is not a drapto preset", req.Preset), nil)
	}
	info, err := os.Stat(req.Source.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, "drapto", "stat source", req.Source.Path, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return nil, services.Wrap(services.ErrSourceUnavailable, "drapto", "stat source", req.Source.Path+" is not a non-empty file", nil)
	}
	workDir, err := os.MkdirTemp(filepath.Dir(req.Destination), ".drapto-*")
	if err != nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, "drapto", "work directory", filepath.Dir(req.Destination), err)
	}

	logger := logging.WithContext(ctx, e.logger)
	runCtx, cancel := context.WithCancel(ctx)
	h := transcoder.NewRunHandle(cancel)
	rep := newExportReporter(h, logger)

	go func() {
		defer cancel()
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				logger.Debug("drapto work directory cleanup failed", logging.String("path", workDir), logging.Error(err))
			}
		}()
		out, err := e.encode(runCtx, req.Source.Path, workDir, rep)
		h.Finish(e.finish(runCtx, out, req.Destination, err, rep))
	}()
	return h, nil
}

func (e *Engine) finish(ctx context.Context, out, dest string, encodeErr error, rep *exportReporter) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, "drapto", "encode", "cancelled", ctx.Err())
	}
	if encodeErr != nil {
		return services.Wrap(services.ErrTranscodeFailed, "drapto", "encode", rep.lastIssue(), encodeErr)
	}
	if err := fileutil.MoveFile(out, dest); err != nil {
		return services.Wrap(services.ErrTranscodeFailed, "drapto", "finalize output", dest, err)
	}
	return nil
}

var _ transcoder.Transcoder = (*Engine)(nil)
