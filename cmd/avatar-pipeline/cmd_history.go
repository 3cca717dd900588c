package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/audit"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed runs from the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			path := cfg.Audit.RunLog
			if !filepath.IsAbs(path) {
				base := cfg.Paths.PipelineDir
				if base == "" {
					if base, err = os.Getwd(); err != nil {
						return err
					}
				}
				path = filepath.Join(base, path)
			}

			records, err := audit.NewRunLog(path).Read()
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, styleLabel.Render("No runs recorded in "+path))
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "  %s  %s\n",
					styleLabel.Render(rec.Timestamp.Format("2006-01-02 15:04:05")),
					styleValue.Render(strings.Join(rec.Files, ", ")),
				)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Show only the most recent N runs")
	return cmd
}
