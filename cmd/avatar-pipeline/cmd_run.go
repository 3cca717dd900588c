package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [input-dir] [output-dir]",
		Short: "Run the pipeline once on the newest audio and portrait",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputArg, outputArg string
			if len(args) > 0 {
				inputArg = args[0]
			}
			if len(args) > 1 {
				outputArg = args[1]
			}

			a, err := newApp(cmd, inputArg, outputArg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runErr := a.pipeline.Run(ctx)

			if path := a.cfg.Metrics.Textfile; path != "" {
				if err := metrics.WriteTextfile(path); err != nil {
					a.logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
				}
			}
			if runErr != nil {
				return runErr
			}

			printRunResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
