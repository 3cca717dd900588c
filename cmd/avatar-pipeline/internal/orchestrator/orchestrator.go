// Package orchestrator sequences a pipeline run: audio preprocessing, input
// selection, the two generative stages with artifact location and renaming
// after each, then archival of consumed files and the run log entry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/audit"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/artifact"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/audio"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/inputs"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/stage"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/workspace"
	"github.com/houzhh15/avatar-pipeline/pkg/logger"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

// Non-tool steps reported alongside the two stages.
const (
	stepPreprocess = "preprocess"
	stepCleanup    = "cleanup"
)

// RunResult describes a successful run.
type RunResult struct {
	RunID        string          `json:"run_id"`
	Audio        string          `json:"audio"`
	Image        string          `json:"image"`
	Intermediate string          `json:"intermediate"`
	Output       string          `json:"output"`
	Preprocess   audio.Report    `json:"preprocess"`
	Record       audit.RunRecord `json:"record"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Pipeline runs the full audio+portrait to video sequence over one working tree.
type Pipeline struct {
	cfg          *config.Config
	paths        *workspace.PipelinePaths
	preprocessor *audio.Preprocessor
	runner       *stage.Runner
	locator      *artifact.Locator
	runLog       *audit.RunLog
	logger       *slog.Logger

	now       func() time.Time
	newRunID  func() string
	diskCheck func(path string, minFreeMB int) error
}

// New wires a Pipeline. cfg and paths are read, never modified.
func New(cfg *config.Config, paths *workspace.PipelinePaths, client *dependency.DependencyClient, runLog *audit.RunLog, log *slog.Logger) *Pipeline {
	pre := audio.NewPreprocessor(client, audio.Options{
		SourceExtensions: cfg.Values.AudioExtensions,
		ProcessedDir:     paths.ProcessedAudioDir,
		AudioOptions: dependency.AudioOptions{
			SilenceMs:  cfg.Values.SilenceMs,
			SampleRate: cfg.Values.SampleRate,
			Channels:   cfg.Values.Channels,
		},
	}, log)

	return &Pipeline{
		cfg:          cfg,
		paths:        paths,
		preprocessor: pre,
		runner:       stage.NewRunner(client, cfg.Environment.Shell, log),
		locator:      artifact.NewLocator(log, cfg.LivePortrait.ByproductSuffix, cfg.LivePortrait.SweepDir),
		runLog:       runLog,
		logger:       log,
		now:          time.Now,
		newRunID:     uuid.NewString,
		diskCheck:    CheckDiskSpace,
	}
}

// WithClock overrides the time source used for artifact names, archive
// suffixes and run records.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	p.preprocessor.WithClock(now)
	p.locator.WithClock(now)
	return p
}

// Paths returns the resolved working tree.
func (p *Pipeline) Paths() *workspace.PipelinePaths {
	return p.paths
}

// Run executes one pipeline run. Any returned error is a *PipelineError;
// files already moved or renamed before a failure stay where they are.
func (p *Pipeline) Run(ctx context.Context) (result *RunResult, err error) {
	runID := p.newRunID()
	log := p.logger.With("run_id", runID)
	started := time.Now()

	defer func() {
		outcome := "success"
		var pe *PipelineError
		if errors.As(err, &pe) {
			outcome = string(pe.Code)
			logger.LogStageEvent(log, pe.Stage, "error", runID, time.Since(started), string(pe.Code))
		} else if err != nil {
			outcome = "error"
		}
		metrics.RecordPipelineRun(outcome)
	}()

	log.Info("Starting pipeline run", "input_dir", p.paths.InputDir, "output_dir", p.paths.OutputDir)

	// 1. Audio preprocessing
	stepStart := time.Now()
	report, err := p.preprocessor.Process(ctx, p.paths.InputDir)
	if err != nil {
		return nil, NewDirectoryNotFoundError(err)
	}
	logger.LogStageEvent(log, stepPreprocess, "success", runID, time.Since(stepStart), "")

	// 2. Input selection
	pair, err := inputs.SelectPair(log, p.paths.InputDir)
	if err != nil {
		return nil, NewNoInputFileError(err)
	}
	log.Info("Selected inputs", "audio", pair.Audio.Name, "image", pair.Image.Name)

	// 3. Stage A: audio-driven animation of the template portrait
	if err := p.diskCheck(p.paths.PipelineDir, p.cfg.Values.MinFreeMB); err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) {
			pe.Stage = stage.NameSadTalker
			return nil, pe
		}
		return nil, NewEnvNotReadyError(stage.NameSadTalker, err)
	}

	stageAStart := time.Now()
	specA, err := stage.SadTalkerSpec(stage.SadTalkerParams{
		ToolDir:         p.paths.SadTalkerDir,
		Python:          p.cfg.Environment.Python,
		Script:          p.cfg.SadTalker.Script,
		Env:             p.environment(p.cfg.SadTalker.CondaEnv, p.cfg.SadTalker.CUDAVersion),
		DrivenAudio:     pair.Audio.Path,
		SourceImage:     p.stageASourceImage(log, pair.Image.Path),
		ResultDir:       p.paths.IntermediateDir,
		Still:           p.cfg.SadTalker.Still,
		Preprocess:      p.cfg.SadTalker.Preprocess,
		ExpressionScale: p.cfg.SadTalker.ExpressionScale,
		RefEyeblink:     p.optionalReference(log, "ref_eyeblink", p.cfg.SadTalker.RefEyeblink),
		RefPose:         p.optionalReference(log, "ref_pose", p.cfg.SadTalker.RefPose),
		Timeout:         p.cfg.SadTalker.Timeout.Std(),
	})
	if err != nil {
		return nil, NewEnvNotReadyError(stage.NameSadTalker, err)
	}
	if err := p.runStage(ctx, runID, specA); err != nil {
		return nil, err
	}

	recA, err := p.locator.LocateNewest(stage.NameSadTalker, specA.OutputDir, specA.OutputExt, stageAStart)
	if err != nil {
		return nil, NewNoOutputArtifactError(stage.NameSadTalker, err)
	}
	intermediate, err := artifact.Rename(recA, pair.Audio.Stem(), p.paths.IntermediateDir, p.now())
	if err != nil {
		return nil, NewRenameError(stage.NameSadTalker, err)
	}
	log.Info("Stage A output renamed", "from", recA.Name(), "to", intermediate.Path)

	// 4. Stage B: re-animate the input portrait with the stage A video
	if err := os.MkdirAll(p.paths.LivePortraitOutputDir, 0755); err != nil {
		return nil, NewEnvNotReadyError(stage.NameLivePortrait, err)
	}
	specB, err := stage.LivePortraitSpec(stage.LivePortraitParams{
		ToolDir:          p.paths.LivePortraitDir,
		Python:           p.cfg.Environment.Python,
		Script:           p.cfg.LivePortrait.Script,
		Env:              p.environment(p.cfg.LivePortrait.CondaEnv, p.cfg.LivePortrait.CUDAVersion),
		SourceImage:      pair.Image.Path,
		DrivingVideo:     intermediate.Path,
		OutputDir:        p.paths.LivePortraitOutputDir,
		CropDrivingVideo: p.cfg.LivePortrait.CropDrivingVideo,
		Timeout:          p.cfg.LivePortrait.Timeout.Std(),
	})
	if err != nil {
		return nil, NewEnvNotReadyError(stage.NameLivePortrait, err)
	}
	if err := p.runStage(ctx, runID, specB); err != nil {
		return nil, err
	}

	recB, err := p.locator.Locate(stage.NameLivePortrait, specB.OutputDir, pair.Image.Stem(), utils.Stem(intermediate.Path))
	if err != nil {
		return nil, NewNoOutputArtifactError(stage.NameLivePortrait, err)
	}
	final, err := artifact.Rename(recB, pair.Audio.Stem()+"-"+pair.Image.Stem(), p.paths.OutputDir, p.now())
	if err != nil {
		return nil, NewRenameError(stage.NameLivePortrait, err)
	}
	log.Info("Final video written", "path", final.Path)

	// 5. Cleanup and run log
	stepStart = time.Now()
	p.archiveAll(log, p.paths.InputDir, p.paths.InputCompletedDir)
	p.archiveAll(log, p.paths.IntermediateDir, p.paths.IntermediateCompletedDir)

	record := audit.NewRunRecord(p.now(), runID, pair.Audio.Name, pair.Image.Name, final.Path)
	if err := p.runLog.Append(record); err != nil {
		log.Error("Failed to append run record", "path", p.runLog.Path(), "error", err)
	}
	logger.LogStageEvent(log, stepCleanup, "success", runID, time.Since(stepStart), "")

	log.Info("Pipeline run complete",
		"audio", pair.Audio.Name,
		"image", pair.Image.Name,
		"output", final.Path,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return &RunResult{
		RunID:        runID,
		Audio:        pair.Audio.Name,
		Image:        pair.Image.Name,
		Intermediate: intermediate.Path,
		Output:       final.Path,
		Preprocess:   report,
		Record:       record,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}, nil
}

// runStage runs spec and converts both failure channels into a PipelineError.
func (p *Pipeline) runStage(ctx context.Context, runID string, spec stage.Spec) error {
	result, err := p.runner.Run(ctx, runID, spec)
	if err != nil {
		return NewProcessStartError(spec.Name, err)
	}
	if !result.Success {
		return NewExternalProcessError(spec.Name, result.ExitCode, result.Logs)
	}
	return nil
}

func (p *Pipeline) environment(condaEnv, cudaVersion string) stage.Environment {
	return stage.Environment{
		CondaScript: p.cfg.Environment.CondaScript,
		CondaEnv:    condaEnv,
		CUDARoot:    p.cfg.Environment.CUDARoot,
		CUDAVersion: p.cfg.CUDAVersion(cudaVersion),
	}
}

// stageASourceImage returns the template portrait, or the input portrait
// when no template is available.
func (p *Pipeline) stageASourceImage(log *slog.Logger, inputImage string) string {
	if p.paths.TemplateImage != "" {
		if _, err := os.Stat(p.paths.TemplateImage); err == nil {
			return p.paths.TemplateImage
		}
	}
	log.Warn("Template image not found, using the input portrait", "template", p.paths.TemplateImage, "image", inputImage)
	return inputImage
}

// optionalReference returns path when it exists, otherwise "" with a warning.
func (p *Pipeline) optionalReference(log *slog.Logger, name, path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		log.Warn("Optional reference media missing, continuing without it", "reference", name, "path", path)
		return ""
	}
	return path
}

// archiveAll moves every regular file of dir into target. Failures are logged.
func (p *Pipeline) archiveAll(log *slog.Logger, dir, target string) {
	files, err := utils.ListFilesByModTime(dir, nil)
	if err != nil {
		log.Warn("Failed to list directory for cleanup", "dir", dir, "error", err)
		return
	}
	now := p.now()
	for _, f := range files {
		dst, err := utils.ArchiveFile(f.Path, target, now)
		if err != nil {
			log.Warn("Failed to archive file", "file", f.Path, "error", fmt.Errorf("archive: %w", err))
			continue
		}
		log.Debug("Archived file", "file", f.Name, "to", dst)
	}
}
