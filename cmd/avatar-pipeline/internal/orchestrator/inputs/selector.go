// Package inputs picks the audio and image a run consumes from the input
// directory, preferring the most recently modified candidate.
package inputs

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
)

// ErrNoInputFile is returned when a directory holds no matching file.
var ErrNoInputFile = errors.New("no input file")

// Kind names the role of an input file.
type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// Default predicates for the two input kinds.
var (
	IsAudio = utils.HasExtension(".wav")
	IsImage = utils.HasExtension(".jpg", ".jpeg", ".png")
)

// Selection is the file chosen for one input role.
type Selection struct {
	Kind       Kind
	Path       string
	Name       string
	Candidates int
}

// Stem returns the selected file name without its extension.
func (s Selection) Stem() string {
	return utils.Stem(s.Name)
}

// InputPair is the audio and image of one run.
type InputPair struct {
	Audio Selection
	Image Selection
}

// SelectLatest returns the most recently modified file in dir accepted by
// match. Extra candidates are logged as a warning and ignored; an empty match
// set returns ErrNoInputFile.
func SelectLatest(logger *slog.Logger, dir string, match func(string) bool, kind Kind) (Selection, error) {
	files, err := utils.ListFilesByModTime(dir, match)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to list %s files in %s: %w", kind, dir, err)
	}
	if len(files) == 0 {
		return Selection{}, fmt.Errorf("%w: no %s file in %s", ErrNoInputFile, kind, dir)
	}

	chosen := files[0]
	if len(files) > 1 {
		logger.Warn("Multiple input candidates found, using the most recent",
			"kind", kind,
			"dir", dir,
			"candidates", len(files),
			"ignored", len(files)-1,
			"selected", chosen.Name,
		)
	}

	return Selection{
		Kind:       kind,
		Path:       chosen.Path,
		Name:       chosen.Name,
		Candidates: len(files),
	}, nil
}

// SelectPair selects the audio and the image from dir. Both must be present.
func SelectPair(logger *slog.Logger, dir string) (InputPair, error) {
	audio, audioErr := SelectLatest(logger, dir, IsAudio, KindAudio)
	image, imageErr := SelectLatest(logger, dir, IsImage, KindImage)
	if err := errors.Join(audioErr, imageErr); err != nil {
		return InputPair{}, err
	}
	return InputPair{Audio: audio, Image: image}, nil
}
