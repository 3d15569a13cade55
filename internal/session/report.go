package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vexport/internal/logging"
	"vexport/internal/queue"
	"vexport/internal/services"
)

// ReportFileName is the name SaveReport writes under the report directory.
const ReportFileName = "vexport-stats.csv"

const reportHeader = "Preset, Width (px), Height (px), Size (MB), Time (s)"

// Unit is a 1024-based size unit for report rows.
type Unit string

const (
	UnitBytes Unit = "bytes"
	UnitKiB   Unit = "kib"
	UnitMiB   Unit = "mib"
	UnitGiB   Unit = "gib"
)

// ParseUnit accepts the unit names case-insensitively.
func ParseUnit(value string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(value))); u {
	case UnitBytes, UnitKiB, UnitMiB, UnitGiB:
		return u, nil
	case "":
		return UnitMiB, nil
	default:
		return "", services.Wrap(services.ErrValidation, "report", "parse unit", fmt.Sprintf("unknown size unit %q", value), nil)
	}
}

// Divisor returns the number of bytes in one unit.
func (u Unit) Divisor() float64 {
	switch u {
	case UnitKiB:
		return 1 << 10
	case UnitMiB:
		return 1 << 20
	case UnitGiB:
		return 1 << 30
	default:
		return 1
	}
}

// Label is the short column suffix for the unit.
func (u Unit) Label() string {
	switch u {
	case UnitKiB:
		return "KiB"
	case UnitMiB:
		return "MiB"
	case UnitGiB:
		return "GiB"
	default:
		return "B"
	}
}

// Row summarises one completed export.
type Row struct {
	Preset  string
	Width   int
	Height  int
	Size    float64
	Seconds float64
}

// Report returns one row per completed job, in session order, with sizes
// expressed in unit. Jobs that are not completed are omitted.
func (s *Session) Report(unit Unit) []Row {
	return BuildRows(s.Jobs(), unit)
}

// BuildRows converts completed jobs into report rows.
func BuildRows(jobs []*queue.Job, unit Unit) []Row {
	rows := make([]Row, 0, len(jobs))
	for _, job := range jobs {
		snap := job.Snapshot()
		if snap.Status != queue.StatusCompleted || snap.ResultByteSize == nil {
			continue
		}
		row := Row{
			Preset:  snap.Preset.DisplayName(),
			Size:    float64(*snap.ResultByteSize) / unit.Divisor(),
			Seconds: snap.TimeToExport.Seconds(),
		}
		if snap.ResultDimensions != nil {
			row.Width = snap.ResultDimensions.Width
			row.Height = snap.ResultDimensions.Height
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteReport writes the CSV artifact for the session. Sizes are always in
// MiB to match the header.
func (s *Session) WriteReport(w io.Writer) error {
	return WriteCSV(w, s.Report(UnitMiB))
}

// WriteCSV writes rows under the fixed report header. Rows are written
// verbatim; the size and time columns keep their leading space.
func WriteCSV(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(reportHeader + "\n"); err != nil {
		return err
	}
	for _, row := range rows {
		line := fmt.Sprintf("%s,%d,%d, %s, %s\n",
			row.Preset,
			row.Width,
			row.Height,
			strconv.FormatFloat(row.Size, 'f', -1, 64),
			strconv.FormatFloat(row.Seconds, 'f', 3, 64),
		)
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveReport writes the report to dir/vexport-stats.csv, replacing any
// previous file atomically, and returns the path.
func (s *Session) SaveReport(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", services.Wrap(services.ErrConfiguration, "report", "save", "report directory not configured", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "report", "create directory", dir, err)
	}
	target := filepath.Join(dir, ReportFileName)
	tmp, err := os.CreateTemp(dir, "."+ReportFileName+".*")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := s.WriteReport(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod report: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup()
		return "", fmt.Errorf("replace report: %w", err)
	}
	s.logger.Info("report saved",
		logging.String("path", target),
		logging.String(logging.FieldEventType, "report_saved"),
	)
	return target, nil
}
