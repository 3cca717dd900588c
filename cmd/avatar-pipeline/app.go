package main

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/audit"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/workspace"
	"github.com/houzhh15/avatar-pipeline/pkg/logger"
)

// app holds the components shared by the commands that run the pipeline.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closer   io.Closer
	paths    *workspace.PipelinePaths
	client   *dependency.DependencyClient
	runLog   *audit.RunLog
	pipeline *orchestrator.Pipeline
}

// newLogger builds the process logger from cfg.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
}

// newApp loads the configuration, resolves the working tree and wires the
// pipeline. inputArg and outputArg override the configured directories.
func newApp(cmd *cobra.Command, inputArg, outputArg string) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, closer, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	paths, err := workspace.Resolve(cfg, inputArg, outputArg)
	if err != nil {
		closer.Close()
		return nil, orchestrator.NewDirectoryNotFoundError(err)
	}

	client := dependency.NewClient(executorConfig(cfg), log)
	runLog := audit.NewRunLog(runLogPath(cfg, paths))

	log.Debug("Pipeline resolved",
		"pipeline_dir", paths.PipelineDir,
		"sadtalker_dir", paths.SadTalkerDir,
		"liveportrait_dir", paths.LivePortraitDir,
		"input_dir", paths.InputDir,
		"output_dir", paths.OutputDir,
		"run_log", runLog.Path(),
	)

	return &app{
		cfg:      cfg,
		logger:   log,
		closer:   closer,
		paths:    paths,
		client:   client,
		runLog:   runLog,
		pipeline: orchestrator.New(cfg, paths, client, runLog, log),
	}, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}

func executorConfig(cfg *config.Config) dependency.ExecutorConfig {
	bins := map[string]string{}
	if cfg.Environment.FFmpeg != "" && cfg.Environment.FFmpeg != "ffmpeg" {
		bins["ffmpeg"] = cfg.Environment.FFmpeg
	}
	return dependency.ExecutorConfig{
		LocalBinaryPaths: bins,
		AllowedCommands:  []string{"ffmpeg", cfg.Environment.Shell},
	}
}

// runLogPath places a relative run log under the pipeline directory.
func runLogPath(cfg *config.Config, paths *workspace.PipelinePaths) string {
	if filepath.IsAbs(cfg.Audit.RunLog) {
		return cfg.Audit.RunLog
	}
	return filepath.Join(paths.PipelineDir, cfg.Audit.RunLog)
}
