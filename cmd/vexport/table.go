package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"vexport/internal/queue"
	"vexport/internal/session"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render() + "\n"
}

// renderJobTable lists jobs in session order with their status and, once
// completed, the result details.
func renderJobTable(jobs []*queue.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		snap := job.Snapshot()
		status := snap.Status.Label()
		if colorize {
			status = colorForStatus(snap.Status) + status + ansiReset
		}
		rows = append(rows, []string{
			snap.Preset.DisplayName(),
			status,
			formatPercent(snap),
			jobDetail(snap),
		})
	}
	return renderTable(
		[]string{"Preset", "Status", "Progress", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func formatPercent(snap queue.Snapshot) string {
	switch snap.Status {
	case queue.StatusCompleted:
		return "100%"
	case queue.StatusExporting:
		return fmt.Sprintf("%.0f%%", snap.Progress*100)
	default:
		return "-"
	}
}

func jobDetail(snap queue.Snapshot) string {
	switch snap.Status {
	case queue.StatusCompleted:
		var parts []string
		if snap.ResultByteSize != nil {
			parts = append(parts, "size: "+humanize.IBytes(uint64(*snap.ResultByteSize)))
		}
		if snap.ResultDimensions != nil {
			parts = append(parts, "resolution: "+snap.ResultDimensions.String())
		}
		if snap.TimeToExport > 0 {
			parts = append(parts, "time: "+snap.TimeToExport.Round(10*time.Millisecond).String())
		}
		return strings.Join(parts, " ")
	case queue.StatusFailed, queue.StatusCancelled:
		if snap.LastError != nil {
			return truncate(snap.LastError.Error(), 72)
		}
	}
	return ""
}

func renderReportTable(rows []session.Row, unit session.Unit) string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Preset,
			strconv.Itoa(r.Width),
			strconv.Itoa(r.Height),
			strconv.FormatFloat(r.Size, 'f', 2, 64),
			strconv.FormatFloat(r.Seconds, 'f', 2, 64),
		})
	}
	return renderTable(
		[]string{"Preset", "Width (px)", "Height (px)", "Size (" + unit.Label() + ")", "Time (s)"},
		out,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
