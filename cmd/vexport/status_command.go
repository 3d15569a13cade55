package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vexport/internal/preflight"
	"vexport/internal/staging"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check binaries, directories and staging usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := colorEnabled(out)

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, line := range preflightLines(results, colorize) {
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Staging", colorize) {
				fmt.Fprintln(out, line)
			}
			dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Allocations", statusError, err.Error(), colorize))
				return nil
			}
			var total int64
			for _, d := range dirs {
				total += d.Size
			}
			fmt.Fprintln(out, renderStatusLine("Allocations", statusInfo,
				fmt.Sprintf("%d directories, %s", len(dirs), humanize.IBytes(uint64(total))), colorize))
			fmt.Fprintln(out, renderStatusLine("AV1 engine", statusInfo, "enabled: "+yesNo(cfg.Engines.DraptoEnabled), colorize))
			return nil
		},
	}
}
