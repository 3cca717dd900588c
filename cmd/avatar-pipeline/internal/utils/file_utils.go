package utils

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ArchiveTimestampLayout is the suffix appended to archived files whose name is taken.
const ArchiveTimestampLayout = "20060102_150405"

// maxNameAttempts bounds the counter appended after a timestamp collision.
const maxNameAttempts = 1000

// ErrDestinationExists is returned when a move would replace an existing file.
var ErrDestinationExists = errors.New("destination already exists")

// FileEntry is a regular file found in a directory listing.
type FileEntry struct {
	Path    string
	Name    string
	ModTime time.Time
}

// Stem returns the file name without its extension.
func (f FileEntry) Stem() string {
	return Stem(f.Name)
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CalculateMD5 returns the hex MD5 digest of a file.
func CalculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to calculate MD5: %w", err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ListFilesByModTime lists the regular files of dir accepted by match, most
// recently modified first. Files with equal timestamps keep name order.
// A nil match accepts everything.
func ListFilesByModTime(dir string, match func(name string) bool) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if match != nil && !match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileEntry{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// HasExtension returns a matcher accepting names with one of exts (case-insensitive).
func HasExtension(exts ...string) func(name string) bool {
	return func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				return true
			}
		}
		return false
	}
}

// InsertSuffix places suffix between the stem and the extension of name.
// Example: InsertSuffix("clip.mp4", "_1") -> "clip_1.mp4"
func InsertSuffix(name, suffix string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + suffix + ext
}

// MoveFile moves src to dst and never replaces an existing dst. Hard links
// give an atomic no-clobber move on the same filesystem; across devices the
// content is copied into an exclusively created file.
func MoveFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	linkErr := os.Link(src, dst)
	if linkErr == nil {
		return os.Remove(src)
	}
	if errors.Is(linkErr, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Remove(src)
}

// MoveUnique moves src into dir under the first free name returned by name
// for attempt 0, 1, 2, ...
func MoveUnique(src, dir string, name func(attempt int) string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		dst := filepath.Join(dir, name(attempt))
		err := MoveFile(src, dst)
		if err == nil {
			return dst, nil
		}
		if !errors.Is(err, ErrDestinationExists) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free name for %s in %s", ErrDestinationExists, filepath.Base(src), dir)
}

// ArchiveFile moves src into dir under its own name. When that name is taken
// a _YYYYMMDD_HHMMSS suffix is added, followed by a counter if that is taken too.
func ArchiveFile(src, dir string, now time.Time) (string, error) {
	base := filepath.Base(src)
	stamp := now.Format(ArchiveTimestampLayout)
	return MoveUnique(src, dir, func(attempt int) string {
		switch attempt {
		case 0:
			return base
		case 1:
			return InsertSuffix(base, "_"+stamp)
		default:
			return InsertSuffix(base, "_"+stamp+"_"+strconv.Itoa(attempt-1))
		}
	})
}

// copyFile copies src into a newly created dst.
func copyFile(src, dst string, perm os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize destination file: %w", err)
	}
	return nil
}
