package config

import (
	"errors"
	"fmt"
	"net"

	"vexport/internal/presets"
)

// SizeUnits lists the accepted export.size_unit values.
var SizeUnits = []string{"bytes", "kib", "mib", "gib"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateMetrics()
}

func (c *Config) validateExport() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	ids, err := presets.ParseList(c.Export.Presets)
	if err != nil {
		return fmt.Errorf("export.presets: %w", err)
	}
	for _, id := range ids {
		if id == presets.AV1 && !c.Engines.DraptoEnabled {
			return errors.New("export.presets: AV1 requires engines.drapto_enabled = true")
		}
	}
	if c.Export.ProgressIntervalMS < minProgressIntervalMS {
		return fmt.Errorf("export.progress_interval_ms must be at least %d", minProgressIntervalMS)
	}
	if c.Export.MinFreeMiB < 0 {
		return errors.New("export.min_free_mib must be non-negative")
	}
	if c.Export.StaleAfterHours <= 0 {
		return errors.New("export.stale_after_hours must be positive")
	}
	valid := false
	for _, unit := range SizeUnits {
		if c.Export.SizeUnit == unit {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("export.size_unit must be one of %v, got %q", SizeUnits, c.Export.SizeUnit)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
		return fmt.Errorf("metrics.bind: %w", err)
	}
	return nil
}

// PresetIDs returns the configured preset order, or the built-in default when
// none is configured.
func (c *Config) PresetIDs() []presets.ID {
	if len(c.Export.Presets) == 0 {
		return presets.Default()
	}
	ids, err := presets.ParseList(c.Export.Presets)
	if err != nil {
		return presets.Default()
	}
	return ids
}
