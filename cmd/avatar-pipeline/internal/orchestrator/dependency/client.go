package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// DependencyClient is the facade the pipeline uses to reach external
// programs. It encapsulates:
//   - Command construction
//   - Request validation
//   - Executor invocation
//   - Error handling and reporting
type DependencyClient struct {
	executor DependencyExecutor
	config   ExecutorConfig
	logger   *slog.Logger
}

// NewClient creates a DependencyClient backed by a LocalExecutor.
func NewClient(config ExecutorConfig, logger *slog.Logger) *DependencyClient {
	return NewClientWithExecutor(NewLocalExecutor(config), config, logger)
}

// NewClientWithExecutor creates a DependencyClient around an existing executor.
func NewClientWithExecutor(executor DependencyExecutor, config ExecutorConfig, logger *slog.Logger) *DependencyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DependencyClient{
		executor: executor,
		config:   config,
		logger:   logger,
	}
}

// HealthCheck delegates to the executor.
func (c *DependencyClient) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// Execute validates req and runs it. A non-zero exit is returned in the
// response with a nil error.
func (c *DependencyClient) Execute(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return CommandResponse{ExitCode: -1}, fmt.Errorf("command validation failed: %w", err)
	}
	c.logger.Debug("[DependencyClient] executing command", "command", req.Command, "args", req.Args, "dir", req.WorkingDir)
	return c.executor.ExecuteCommand(ctx, req)
}

// RunScript executes script through shell inside workingDir.
func (c *DependencyClient) RunScript(ctx context.Context, shell string, script *Script, workingDir string, timeout time.Duration) (CommandResponse, error) {
	return c.Execute(ctx, script.Request(shell, workingDir, timeout))
}

// AudioOptions controls ConvertAudio.
type AudioOptions struct {
	// SilenceMs is the leading silence inserted before the audio (0 for none).
	SilenceMs int

	// SampleRate overrides the output sample rate when > 0.
	SampleRate int

	// Channels overrides the output channel count when > 0.
	Channels int
}

// ConvertAudio decodes inputPath with FFmpeg and writes a WAV file to
// outputPath, prefixed with opts.SilenceMs of silence on every channel.
// FFmpeg runs with -n, so an existing outputPath is never overwritten.
func (c *DependencyClient) ConvertAudio(ctx context.Context, inputPath, outputPath string, opts AudioOptions) error {
	args := []string{"-hide_banner", "-loglevel", "error", "-n", "-i", inputPath}
	if opts.SilenceMs > 0 {
		args = append(args, "-af", fmt.Sprintf("adelay=delays=%d:all=1", opts.SilenceMs))
	}
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.Channels))
	}
	args = append(args, "-f", "wav", outputPath)

	req := CommandRequest{
		Command: "ffmpeg",
		Args:    args,
		Timeout: c.config.DefaultTimeout,
	}

	resp, err := c.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("audio conversion failed: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return fmt.Errorf("audio conversion failed (exit code %d): %s", resp.ExitCode, resp.Stderr)
	}

	c.logger.Debug("[DependencyClient] audio converted",
		"input", inputPath,
		"output", outputPath,
		"silence_ms", opts.SilenceMs,
		"duration_ms", resp.Duration.Milliseconds(),
	)
	return nil
}
