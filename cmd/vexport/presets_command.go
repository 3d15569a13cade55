package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"vexport/internal/presets"
)

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	var showArgs bool

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List export presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			configured := cfg.PresetIDs()

			headers := []string{"Preset", "Engine", "Bounds", "Enabled", "Description"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
			if showArgs {
				headers = append(headers, "Arguments")
				aligns = append(aligns, alignLeft)
			}

			rows := make([][]string, 0, len(presets.All()))
			for _, id := range presets.All() {
				p, _ := presets.Lookup(id)
				bounds := "source"
				if p.MaxWidth > 0 && p.MaxHeight > 0 {
					bounds = fmt.Sprintf("%dx%d", p.MaxWidth, p.MaxHeight)
				}
				enabled := slices.Contains(configured, id)
				if p.Engine == presets.EngineDrapto && !cfg.Engines.DraptoEnabled {
					enabled = false
				}
				row := []string{id.DisplayName(), titleWords(string(p.Engine)), bounds, yesNo(enabled), p.Description}
				if showArgs {
					row = append(row, strings.Join(p.Args, " "))
				}
				rows = append(rows, row)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showArgs, "args", false, "Show the ffmpeg arguments for each preset")
	return cmd
}
