// Package stage runs one external generative tool as a single bash
// invocation: environment activation, cd into the tool, inference.
package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
	"github.com/houzhh15/avatar-pipeline/pkg/logger"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

// Stage names, used in logs, metrics and error reports.
const (
	NameSadTalker    = "sadtalker"
	NameLivePortrait = "liveportrait"
)

// Spec is everything needed to run one stage. Builders return a fresh Spec
// per invocation; the runner does not modify it.
type Spec struct {
	Name       string
	Script     *dependency.Script
	WorkingDir string
	Timeout    time.Duration

	// OutputDir and OutputExt describe where the tool writes its result.
	OutputDir string
	OutputExt string
}

// Result is the outcome of a stage whose process was started.
type Result struct {
	Success  bool
	ExitCode int
	Output   string // stdout
	Logs     string // stderr
	Duration time.Duration
}

// Runner executes stage specs through a DependencyClient.
type Runner struct {
	client *dependency.DependencyClient
	shell  string
	logger *slog.Logger
}

// NewRunner creates a Runner that runs scripts with shell (bash when empty).
func NewRunner(client *dependency.DependencyClient, shell string, logger *slog.Logger) *Runner {
	if shell == "" {
		shell = "bash"
	}
	return &Runner{client: client, shell: shell, logger: logger}
}

// Run executes spec and blocks until the tool exits. A non-zero exit is
// reported through Result with a nil error; the error is reserved for a
// process that could not be started, timed out, or was cancelled.
func (r *Runner) Run(ctx context.Context, runID string, spec Spec) (Result, error) {
	logger.LogStageEvent(r.logger, spec.Name, "start", runID, 0, "")
	r.logger.Debug("Stage script", "stage", spec.Name, "steps", spec.Script.Steps())

	resp, err := r.client.RunScript(ctx, r.shell, spec.Script, spec.WorkingDir, spec.Timeout)
	result := Result{
		Success:  err == nil && resp.Success,
		ExitCode: resp.ExitCode,
		Output:   resp.Stdout,
		Logs:     resp.Stderr,
		Duration: resp.Duration,
	}
	metrics.RecordStageDuration(spec.Name, result.Duration.Seconds())

	if err != nil {
		metrics.RecordStageExecution(spec.Name, "error")
		r.logger.Error("Stage could not run", "stage", spec.Name, "run_id", runID, "error", err, "stderr", resp.Stderr)
		return result, err
	}

	if resp.Stdout != "" {
		r.logger.Info("Stage output", "stage", spec.Name, "stdout", resp.Stdout)
	}

	if !result.Success {
		metrics.RecordStageExecution(spec.Name, "failed")
		r.logger.Error("Stage exited with non-zero status",
			"stage", spec.Name,
			"run_id", runID,
			"exit_code", result.ExitCode,
			"stderr", result.Logs,
		)
		return result, nil
	}

	metrics.RecordStageExecution(spec.Name, "success")
	logger.LogStageEvent(r.logger, spec.Name, "success", runID, result.Duration, "")
	return result, nil
}
