// Package audio converts dropped-in source audio into the WAV files the
// face-animation stage consumes.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

// partialSuffix marks a conversion in progress; it never matches an input predicate.
const partialSuffix = ".partial"

// Options configures the preprocessor.
type Options struct {
	// SourceExtensions selects the files to convert (e.g. ".mp3").
	SourceExtensions []string

	// ProcessedDir receives the originals after conversion.
	ProcessedDir string

	dependency.AudioOptions
}

// Report summarises one batch by source file name.
type Report struct {
	Converted []string
	Skipped   []string
	Failed    []string
}

// Preprocessor converts every unconverted source file of a directory.
type Preprocessor struct {
	client *dependency.DependencyClient
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewPreprocessor creates a Preprocessor.
func NewPreprocessor(client *dependency.DependencyClient, opts Options, logger *slog.Logger) *Preprocessor {
	return &Preprocessor{
		client: client,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for archive suffixes.
func (p *Preprocessor) WithClock(now func() time.Time) *Preprocessor {
	p.now = now
	return p
}

// Process converts each source file in dir to <stem>.wav beside it and moves
// the original into the processed directory. Files whose WAV already exists
// are skipped. A failed file is logged and the batch continues; only a
// directory that cannot be listed is returned as an error.
func (p *Preprocessor) Process(ctx context.Context, dir string) (Report, error) {
	var report Report

	sources, err := utils.ListFilesByModTime(dir, utils.HasExtension(p.opts.SourceExtensions...))
	if err != nil {
		return report, fmt.Errorf("failed to list audio sources in %s: %w", dir, err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	if len(sources) == 0 {
		p.logger.Warn("No source audio to preprocess", "dir", dir, "extensions", p.opts.SourceExtensions)
		return report, nil
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		wavPath := filepath.Join(dir, src.Stem()+".wav")
		if _, err := os.Stat(wavPath); err == nil {
			p.logger.Info("Skipping source audio, WAV already exists", "source", src.Name, "wav", filepath.Base(wavPath))
			report.Skipped = append(report.Skipped, src.Name)
			metrics.RecordAudioConversion("skipped")
			continue
		}

		if err := p.convert(ctx, src.Path, wavPath); err != nil {
			p.logger.Error("Audio conversion failed", "source", src.Name, "error", err)
			report.Failed = append(report.Failed, src.Name)
			metrics.RecordAudioConversion("failed")
			continue
		}
		report.Converted = append(report.Converted, src.Name)
		metrics.RecordAudioConversion("converted")

		archived, err := utils.ArchiveFile(src.Path, p.opts.ProcessedDir, p.now())
		if err != nil {
			p.logger.Warn("Converted audio but could not archive the source", "source", src.Name, "error", err)
			continue
		}
		p.logger.Info("Converted source audio", "source", src.Name, "wav", filepath.Base(wavPath), "archived", archived)
	}

	p.logger.Info("Audio preprocessing finished",
		"converted", len(report.Converted),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

// convert writes to a partial file and moves it into place only on success,
// so a failed conversion never leaves a WAV that a later run would skip.
func (p *Preprocessor) convert(ctx context.Context, src, wavPath string) error {
	partial := wavPath + partialSuffix
	if err := os.Remove(partial); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear stale partial file: %w", err)
	}

	if err := p.client.ConvertAudio(ctx, src, partial, p.opts.AudioOptions); err != nil {
		os.Remove(partial)
		return err
	}
	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("converter reported success but wrote no output: %w", err)
	}

	if err := utils.MoveFile(partial, wavPath); err != nil {
		os.Remove(partial)
		return err
	}
	return nil
}
