package main

import (
	"log/slog"

	"vexport/internal/config"
	"vexport/internal/media/probe"
	"vexport/internal/presets"
	"vexport/internal/services/drapto"
	"vexport/internal/services/ffmpeg"
	"vexport/internal/transcoder"
)

// buildTranscoder routes ffmpeg presets to the ffmpeg engine and, when
// enabled, the AV1 preset to drapto.
func buildTranscoder(cfg *config.Config, logger *slog.Logger) *transcoder.Router {
	ff := ffmpeg.New(cfg.Engines.FFmpegBinary,
		ffmpeg.WithLogger(logger),
		ffmpeg.WithFFprobe(cfg.Engines.FFprobeBinary),
	)
	router := transcoder.NewRouter(nil)
	var ffIDs []presets.ID
	for _, id := range presets.All() {
		p, _ := presets.Lookup(id)
		if p.Engine == presets.EngineFFmpeg {
			ffIDs = append(ffIDs, id)
		}
	}
	router.Register(ff, ffIDs...)
	if cfg.Engines.DraptoEnabled {
		router.Register(drapto.New(drapto.WithLogger(logger)), presets.AV1)
	}
	return router
}

func buildProber(cfg *config.Config, logger *slog.Logger) *probe.Prober {
	return probe.New(cfg.Engines.FFprobeBinary, probe.WithLogger(logger))
}
