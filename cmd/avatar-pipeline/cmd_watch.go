package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/api"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/inputs"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/watcher"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [input-dir] [output-dir]",
		Short: "Run the pipeline whenever new inputs settle in the input directory",
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

			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				a.cfg.Watch.Listen = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, a, a.pipeline)
		},
	}
	cmd.Flags().String("listen", "", "Serve status and metrics on this address (e.g. :8090)")
	return cmd
}

func runWatch(ctx context.Context, a *app, runner orchestrator.Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	guard := orchestrator.NewRunGuard(runner)
	ready := inputsReady(a.paths.InputDir, a.cfg.Values.AudioExtensions)

	onSettle := func(ctx context.Context) {
		if !ready() {
			a.logger.Debug("Inputs incomplete, waiting")
			return
		}
		err := guard.TryStart(ctx, func(res *orchestrator.RunResult, err error) {
			logRunOutcome(a, res, err)
		})
		if errors.Is(err, orchestrator.ErrBusy) {
			a.logger.Info("Run already in progress, trigger dropped")
		}
	}

	w := watcher.New(a.paths.InputDir, a.cfg.Watch.Settle.Std(), onSettle, a.logger)

	watchDone := make(chan error, 1)
	go func() { watchDone <- w.Run(ctx) }()

	serveErr := make(chan error, 1)
	var srv *http.Server
	if addr := a.cfg.Watch.Listen; addr != "" {
		gin.SetMode(gin.ReleaseMode)
		h := api.NewHandler(ctx, guard, a.logger)
		srv = &http.Server{Addr: addr, Handler: api.NewRouter(h, a.logger)}
		go func() {
			a.logger.Info("Status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("status server: %w", err)
			}
		}()
	}

	// Pick up inputs already present at start.
	onSettle(ctx)

	var runErr error
	watcherStopped := false
	select {
	case <-ctx.Done():
	case runErr = <-watchDone:
		watcherStopped = true
	case runErr = <-serveErr:
	}
	cancel()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Status server shutdown failed", "error", err)
		}
	}
	if !watcherStopped {
		if err := <-watchDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	if guard.Status().Busy {
		a.logger.Info("Waiting for the active run to stop")
	}
	guard.Wait()

	a.logger.Info("Watcher stopped")
	return runErr
}

// inputsReady reports whether dir holds an image and either a wav or a
// convertible audio source.
func inputsReady(dir string, sourceExts []string) func() bool {
	isSource := utils.HasExtension(sourceExts...)
	return func() bool {
		files, err := utils.ListFilesByModTime(dir, nil)
		if err != nil {
			return false
		}
		var audio, image bool
		for _, f := range files {
			switch {
			case inputs.IsAudio(f.Name) || isSource(f.Name):
				audio = true
			case inputs.IsImage(f.Name):
				image = true
			}
		}
		return audio && image
	}
}

func logRunOutcome(a *app, res *orchestrator.RunResult, err error) {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if werr := metrics.WriteTextfile(path); werr != nil {
			a.logger.Warn("Failed to write metrics textfile", "path", path, "error", werr)
		}
	}

	var pe *orchestrator.PipelineError
	switch {
	case err == nil:
		a.logger.Info("Video generated", "run_id", res.RunID, "output", res.Output)
	case errors.As(err, &pe) && pe.Code == orchestrator.NO_INPUT_FILE:
		a.logger.Info("Waiting for inputs", "detail", pe.Error())
	default:
		a.logger.Error("Run failed, inputs left in place", "error", err, slog.String("input_dir", a.paths.InputDir))
	}
}
