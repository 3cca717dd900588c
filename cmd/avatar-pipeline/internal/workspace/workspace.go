// Package workspace resolves the directories a pipeline run works in: the
// external tool installations and the pipeline's own working tree.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
)

// ErrDirectoryNotFound is returned when no candidate root holds a required directory.
var ErrDirectoryNotFound = errors.New("directory not found")

// Fixed subdirectory roles inside the working tree.
const (
	CompletedDirName = "completed"
)

// FindDirectory returns <root>/<name> for the first root, in order, where it
// is an existing directory. Empty roots are skipped.
func FindDirectory(name string, searchPaths []string) (string, error) {
	for _, root := range searchPaths {
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", fmt.Errorf("failed to resolve %s: %w", candidate, err)
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched %v)", ErrDirectoryNotFound, name, searchPaths)
}

// PipelinePaths holds the absolute paths a run needs. It is resolved once and
// not modified afterwards.
type PipelinePaths struct {
	HomeDir     string
	ParentDir   string
	PipelineDir string
	SearchRoots []string

	SadTalkerDir          string
	LivePortraitDir       string
	LivePortraitOutputDir string

	InputDir        string
	OutputDir       string
	IntermediateDir string

	InputCompletedDir        string
	IntermediateCompletedDir string
	ProcessedAudioDir        string

	TemplateImage string
}

// SearchPaths lists the roots tool directories are looked up in: the home
// root, the parent of the pipeline directory, then any extra roots.
func SearchPaths(homeDir, pipelineDir string, extra []string) []string {
	roots := []string{homeDir, filepath.Dir(pipelineDir)}
	return append(roots, extra...)
}

// Resolve locates every directory of a run. inputArg and outputArg are the
// optional positional overrides; relative values are taken from the pipeline
// directory. The input directory and both tool directories must exist; the
// output and intermediate directories are created when missing.
func Resolve(cfg *config.Config, inputArg, outputArg string) (*PipelinePaths, error) {
	pipelineDir := cfg.Paths.PipelineDir
	if pipelineDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		pipelineDir = wd
	}
	pipelineDir, err := filepath.Abs(pipelineDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pipeline directory: %w", err)
	}

	p := &PipelinePaths{
		HomeDir:     cfg.Paths.HomeDir,
		ParentDir:   filepath.Dir(pipelineDir),
		PipelineDir: pipelineDir,
		SearchRoots: SearchPaths(cfg.Paths.HomeDir, pipelineDir, cfg.Paths.SearchRoots),
	}

	if p.SadTalkerDir, err = FindDirectory(cfg.SadTalker.DirName, p.SearchRoots); err != nil {
		return nil, err
	}
	if p.LivePortraitDir, err = FindDirectory(cfg.LivePortrait.DirName, p.SearchRoots); err != nil {
		return nil, err
	}
	p.LivePortraitOutputDir = p.under(p.LivePortraitDir, cfg.LivePortrait.OutputDir)

	p.InputDir = p.under(pipelineDir, pick(inputArg, cfg.Paths.InputDir))
	p.OutputDir = p.under(pipelineDir, pick(outputArg, cfg.Paths.OutputDir))
	p.IntermediateDir = p.under(pipelineDir, cfg.Paths.IntermediateDir)
	if cfg.SadTalker.ResultDir != "" {
		p.IntermediateDir = p.under(pipelineDir, cfg.SadTalker.ResultDir)
	}

	if info, err := os.Stat(p.InputDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: input directory %s", ErrDirectoryNotFound, p.InputDir)
	}

	p.InputCompletedDir = filepath.Join(p.InputDir, CompletedDirName)
	p.IntermediateCompletedDir = filepath.Join(p.IntermediateDir, CompletedDirName)
	p.ProcessedAudioDir = filepath.Join(p.InputDir, cfg.Values.ProcessedAudioDir)
	p.TemplateImage = p.under(pipelineDir, cfg.SadTalker.TemplateImage)

	for _, dir := range []string{p.OutputDir, p.IntermediateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return p, nil
}

// under joins rel onto base unless rel is already absolute.
func (p *PipelinePaths) under(base, rel string) string {
	if rel == "" {
		return ""
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(base, rel)
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
