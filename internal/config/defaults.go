package config

const (
	defaultStagingDir         = "~/.local/share/vexport/staging"
	defaultReportDir          = "~/.local/share/vexport/reports"
	defaultLogDir             = "~/.local/share/vexport/logs"
	defaultProgressIntervalMS = 1000
	defaultMinFreeMiB         = 512
	defaultStaleAfterHours    = 48
	defaultSizeUnit           = "mib"
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"

	minProgressIntervalMS = 50
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			ReportDir:  defaultReportDir,
			LogDir:     defaultLogDir,
		},
		Export: Export{
			ProgressIntervalMS: defaultProgressIntervalMS,
			MinFreeMiB:         defaultMinFreeMiB,
			StaleAfterHours:    defaultStaleAfterHours,
			SizeUnit:           defaultSizeUnit,
		},
		Engines: Engines{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
