// Package artifact finds the file a stage produced and gives it a stable,
// collision-free name before the rest of the pipeline refers to it.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
	"github.com/houzhh15/avatar-pipeline/pkg/metrics"
)

var (
	// ErrNoOutputArtifact is returned when no file in a stage output directory matches.
	ErrNoOutputArtifact = errors.New("no output artifact")

	// ErrSourceMissing is returned when the file to rename no longer exists.
	ErrSourceMissing = errors.New("artifact source missing")
)

// Record is a located stage output. After Rename only the returned record's
// Path is valid.
type Record struct {
	Path    string
	Stage   string
	ModTime time.Time
}

// Name returns the file name of the artifact.
func (r Record) Name() string {
	return filepath.Base(r.Path)
}

// Locator matches stage outputs to their inputs.
type Locator struct {
	logger          *slog.Logger
	byproductSuffix string
	sweepDir        string
	now             func() time.Time
}

// NewLocator creates a Locator. Files ending in byproductSuffix are moved into
// the sweepDir subfolder of the directory being searched.
func NewLocator(logger *slog.Logger, byproductSuffix, sweepDir string) *Locator {
	return &Locator{
		logger:          logger,
		byproductSuffix: byproductSuffix,
		sweepDir:        sweepDir,
		now:             time.Now,
	}
}

// WithClock overrides the time source used for archive suffixes of swept files.
func (l *Locator) WithClock(now func() time.Time) *Locator {
	l.now = now
	return l
}

// Sweep moves every byproduct in dir aside and returns how many were moved.
func (l *Locator) Sweep(stage, dir string) (int, error) {
	if l.byproductSuffix == "" {
		return 0, nil
	}
	files, err := utils.ListFilesByModTime(dir, func(name string) bool {
		return strings.HasSuffix(name, l.byproductSuffix)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	target := filepath.Join(dir, l.sweepDir)
	now := l.now()
	swept := 0
	for _, f := range files {
		dst, err := utils.ArchiveFile(f.Path, target, now)
		if err != nil {
			return swept, fmt.Errorf("failed to sweep byproduct %s: %w", f.Name, err)
		}
		l.logger.Info("Moved byproduct aside", "stage", stage, "file", f.Name, "to", dst)
		swept++
	}
	metrics.RecordArtifactsSwept(stage, swept)
	return swept, nil
}

// Locate returns the file stage produced in dir for the (source, driver) stem
// pair. Byproducts are swept first. Among the remaining files, most recent
// first, the first whose stem is exactly "{source}--{driver}" wins; failing
// that, the first whose name contains source.
func (l *Locator) Locate(stage, dir, source, driver string) (Record, error) {
	if _, err := l.Sweep(stage, dir); err != nil {
		return Record{}, err
	}

	files, err := utils.ListFilesByModTime(dir, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	exact := source + "--" + driver
	for _, f := range files {
		if f.Stem() == exact {
			return Record{Path: f.Path, Stage: stage, ModTime: f.ModTime}, nil
		}
	}

	for _, f := range files {
		if strings.Contains(f.Name, source) {
			l.logger.Warn("No exact output match, using substring match",
				"stage", stage,
				"expected", exact,
				"selected", f.Name,
			)
			return Record{Path: f.Path, Stage: stage, ModTime: f.ModTime}, nil
		}
	}

	l.logger.Warn("No suitable output file found", "stage", stage, "dir", dir, "expected", exact, "files", len(files))
	return Record{}, fmt.Errorf("%w: %s produced nothing matching %q in %s", ErrNoOutputArtifact, stage, exact, dir)
}

// LocateNewest returns the most recently modified file with extension ext in
// dir that was written no earlier than since (compared at second resolution).
func (l *Locator) LocateNewest(stage, dir, ext string, since time.Time) (Record, error) {
	files, err := utils.ListFilesByModTime(dir, utils.HasExtension(ext))
	if err != nil {
		return Record{}, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cutoff := since.Truncate(time.Second)
	if len(files) > 0 && !files[0].ModTime.Before(cutoff) {
		f := files[0]
		return Record{Path: f.Path, Stage: stage, ModTime: f.ModTime}, nil
	}

	l.logger.Warn("No output file found", "stage", stage, "dir", dir, "ext", ext, "since", since)
	return Record{}, fmt.Errorf("%w: no %s written by %s in %s", ErrNoOutputArtifact, ext, stage, dir)
}
