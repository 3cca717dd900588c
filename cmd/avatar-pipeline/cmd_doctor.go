package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tool installations, runtimes and disk space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			status := orchestrator.CheckEnvironment(cfg)
			printEnvironment(cmd.OutOrStdout(), status)
			if !status.Ready {
				return fmt.Errorf("environment has %d issue(s)", len(status.Issues))
			}
			return nil
		},
	}
}
