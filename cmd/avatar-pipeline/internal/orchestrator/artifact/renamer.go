package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
)

// RenameTimestampLayout is the timestamp every renamed artifact carries.
const RenameTimestampLayout = "20060102-150405"

// Rename moves rec to "{name}_{timestamp}{ext}" inside targetDir (rec's own
// directory when empty). The timestamp is always present. If that name is
// taken within the same second a counter is appended ("_1", "_2", ...), so an
// existing file is never overwritten.
func Rename(rec Record, name, targetDir string, now time.Time) (Record, error) {
	if _, err := os.Lstat(rec.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrSourceMissing, rec.Path)
		}
		return Record{}, fmt.Errorf("failed to stat %s: %w", rec.Path, err)
	}

	if targetDir == "" {
		targetDir = filepath.Dir(rec.Path)
	}
	ext := filepath.Ext(rec.Path)
	base := name + "_" + now.Format(RenameTimestampLayout)

	dst, err := utils.MoveUnique(rec.Path, targetDir, func(attempt int) string {
		if attempt == 0 {
			return base + ext
		}
		return base + "_" + strconv.Itoa(attempt) + ext
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrSourceMissing, rec.Path)
		}
		return Record{}, fmt.Errorf("failed to rename %s: %w", rec.Path, err)
	}

	return Record{Path: dst, Stage: rec.Stage, ModTime: rec.ModTime}, nil
}
