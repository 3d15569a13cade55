package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExport()
	c.normalizeEngines()
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeExport() {
	presets := c.Export.Presets[:0]
	for _, name := range c.Export.Presets {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			presets = append(presets, trimmed)
		}
	}
	c.Export.Presets = presets
	c.Export.OutputFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Export.OutputFormat), "."))
	if c.Export.ProgressIntervalMS == 0 {
		c.Export.ProgressIntervalMS = defaultProgressIntervalMS
	}
	c.Export.SizeUnit = strings.ToLower(strings.TrimSpace(c.Export.SizeUnit))
	if c.Export.SizeUnit == "" {
		c.Export.SizeUnit = defaultSizeUnit
	}
}

func (c *Config) normalizeEngines() {
	c.Engines.FFmpegBinary = strings.TrimSpace(c.Engines.FFmpegBinary)
	if c.Engines.FFmpegBinary == "" || c.Engines.FFmpegBinary == defaultFFmpegBinary {
		if value, ok := os.LookupEnv("VEXPORT_FFMPEG"); ok && strings.TrimSpace(value) != "" {
			c.Engines.FFmpegBinary = strings.TrimSpace(value)
		}
	}
	if c.Engines.FFmpegBinary == "" {
		c.Engines.FFmpegBinary = defaultFFmpegBinary
	}

	c.Engines.FFprobeBinary = strings.TrimSpace(c.Engines.FFprobeBinary)
	if c.Engines.FFprobeBinary == "" || c.Engines.FFprobeBinary == defaultFFprobeBinary {
		if value, ok := os.LookupEnv("VEXPORT_FFPROBE"); ok && strings.TrimSpace(value) != "" {
			c.Engines.FFprobeBinary = strings.TrimSpace(value)
		}
	}
	if c.Engines.FFprobeBinary == "" {
		c.Engines.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
