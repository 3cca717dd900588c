package inputs

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
)

func touch(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestSelectLatest_PicksNewestAndWarns(t *testing.T) {
	audioDir, imageDir := t.TempDir(), t.TempDir()
	touch(t, audioDir, "a.mp3", 2*time.Hour)
	touch(t, audioDir, "b.mp3", time.Hour)
	touch(t, imageDir, "x.png", 2*time.Hour)
	touch(t, imageDir, "y.jpg", time.Hour)

	log, buf := captureLogger()

	audio, err := SelectLatest(log, audioDir, utils.HasExtension(".mp3"), KindAudio)
	require.NoError(t, err)
	image, err := SelectLatest(log, imageDir, IsImage, KindImage)
	require.NoError(t, err)

	assert.Equal(t, "b.mp3", audio.Name)
	assert.Equal(t, 2, audio.Candidates)
	assert.Equal(t, "y.jpg", image.Name)
	assert.Equal(t, "y", image.Stem())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, `"level":"WARN"`)
		assert.Contains(t, line, `"candidates":2`)
	}
}

func TestSelectLatest_SingleCandidateNoWarning(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "voice.wav", 0)
	touch(t, dir, "notes.txt", 0)

	log, buf := captureLogger()
	sel, err := SelectLatest(log, dir, IsAudio, KindAudio)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "voice.wav"), sel.Path)
	assert.Empty(t, buf.String())
}

func TestSelectLatest_NoMatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "voice.mp3", 0)

	log, _ := captureLogger()
	_, err := SelectLatest(log, dir, IsAudio, KindAudio)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInputFile)
	assert.Contains(t, err.Error(), "audio")
}

func TestSelectLatest_IgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))

	log, _ := captureLogger()
	_, err := SelectLatest(log, dir, IsImage, KindImage)
	assert.ErrorIs(t, err, ErrNoInputFile)
}

func TestSelectPair(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "voice.wav", 0)
	touch(t, dir, "face.PNG", 0)

	log, _ := captureLogger()
	pair, err := SelectPair(log, dir)

	require.NoError(t, err)
	assert.Equal(t, "voice.wav", pair.Audio.Name)
	assert.Equal(t, "face.PNG", pair.Image.Name)
}

func TestSelectPair_MissingImage(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "voice.wav", 0)

	log, _ := captureLogger()
	_, err := SelectPair(log, dir)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInputFile)
	assert.Contains(t, err.Error(), "image")
}
