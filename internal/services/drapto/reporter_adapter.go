package drapto

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	draptolib "github.com/five82/drapto"

	"vexport/internal/logging"
	"vexport/internal/transcoder"
)

// exportReporter adapts the Drapto Reporter interface to a transcoder handle.
// Stage changes and encode start/finish become status-change notifications.
type exportReporter struct {
	handle  *transcoder.RunHandle
	logger  *slog.Logger
	sampler *logging.ProgressSampler

	mu    sync.Mutex
	stage string
	issue string
}

func newExportReporter(h *transcoder.RunHandle, logger *slog.Logger) *exportReporter {
	return &exportReporter{handle: h, logger: logger, sampler: logging.NewProgressSampler(10)}
}

// progress records a percent (0-100) for stage and notifies on stage change.
func (r *exportReporter) progress(percent float64, stage string) {
	stage = strings.TrimSpace(stage)
	r.mu.Lock()
	changed := stage != "" && stage != r.stage
	if changed {
		r.stage = stage
	}
	log := r.sampler.ShouldLog(percent/100, stage)
	r.mu.Unlock()

	r.handle.SetProgress(percent / 100)
	if changed {
		r.handle.NotifyChange()
	}
	if log {
		r.logger.Debug("drapto progress",
			logging.String("stage", stage),
			logging.Float64("percent", percent),
		)
	}
}

func (r *exportReporter) recordIssue(msg string) {
	r.mu.Lock()
	r.issue = msg
	r.mu.Unlock()
}

func (r *exportReporter) lastIssue() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.issue == "" {
		return "encode failed"
	}
	return r.issue
}

func (r *exportReporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.Any("hostname", s.Hostname))
}

func (r *exportReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto initialized",
		logging.Any("input", s.InputFile),
		logging.Any("resolution", s.Resolution),
		logging.Any("duration", s.Duration),
		logging.Any("dynamic_range", s.DynamicRange),
		logging.String(logging.FieldEventType, "drapto_initialized"),
	)
}

func (r *exportReporter) StageProgress(s draptolib.StageProgress) {
	r.progress(float64(s.Percent), fmt.Sprint(s.Stage))
}

func (r *exportReporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("drapto crop detection",
		logging.Any("crop", s.Crop),
		logging.Any("required", s.Required),
		logging.Any("message", s.Message),
	)
}

func (r *exportReporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Debug("drapto encoding config", logging.Any("preset", s.DraptoPreset))
}

func (r *exportReporter) EncodingStarted(totalFrames uint64) {
	r.logger.Info("drapto encoding started",
		logging.Uint64("total_frames", totalFrames),
		logging.String(logging.FieldEventType, "drapto_encoding_started"),
	)
	r.progress(0, "encoding")
}

func (r *exportReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.progress(float64(s.Percent), "encoding")
}

func (r *exportReporter) ValidationComplete(s draptolib.ValidationSummary) {
	r.logger.Info("drapto validation complete", logging.Any("passed", s.Passed))
}

func (r *exportReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.logger.Info("drapto encoding complete",
		logging.Any("output", s.OutputPath),
		logging.Int64("encoded_bytes", int64(s.EncodedSize)),
		logging.String(logging.FieldEventType, "drapto_encoding_complete"),
	)
	r.progress(100, "complete")
}

func (r *exportReporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning",
		logging.String("detail", message),
		logging.String(logging.FieldErrorHint, "review drapto output for the source"),
	)
}

func (r *exportReporter) Error(e draptolib.ReporterError) {
	msg := strings.TrimSpace(fmt.Sprintf("%v: %v", e.Title, e.Message))
	r.recordIssue(msg)
	logging.ErrorWithContext(r.logger, "drapto error", "drapto_error",
		logging.String("detail", msg),
		logging.Any("suggestion", e.Suggestion),
	)
}

func (r *exportReporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("detail", message))
}

func (r *exportReporter) BatchStarted(s draptolib.BatchStartInfo) {}

func (r *exportReporter) FileProgress(s draptolib.FileProgressContext) {}

func (r *exportReporter) BatchComplete(s draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*exportReporter)(nil)
