package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vexport/internal/config"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <path>",
		Short: "Describe a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			info, err := buildProber(cfg, logger).Describe(cmd.Context(), path)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Path", info.Path},
				{"Kind", titleWords(info.Kind)},
				{"MIME type", info.MimeType},
				{"Size", humanize.IBytes(uint64(info.Size)) + " (" + strconv.FormatInt(info.Size, 10) + " bytes)"},
			}
			if info.Dimensions != nil {
				rows = append(rows, []string{"Resolution", info.Dimensions.String()})
			}
			if info.DurationSeconds > 0 {
				rows = append(rows, []string{"Duration", fmt.Sprintf("%.2fs", info.DurationSeconds)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}
