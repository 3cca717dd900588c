package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 10, 19, 12, 30, 45, 0, time.Local)

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFor("runs/output_list.CSV"))
	assert.Equal(t, FormatJSONL, FormatFor("runs.jsonl"))
	assert.Equal(t, FormatText, FormatFor("output_list.log"))
	assert.Equal(t, FormatText, FormatFor("output_list"))
}

func TestRunLog_TextAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output_list.log")
	log := NewRunLog(path)

	require.NoError(t, log.Append(NewRunRecord(ts, "r1", "voice.wav", "face.png", "/out/voice-face_20261019-123045.mp4")))
	require.NoError(t, log.Append(NewRunRecord(ts.Add(time.Minute), "r2", "b.wav", "y.jpg", "/out/b-y.mp4")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"2026-10-19_12-30-45: voice.wav, face.png, /out/voice-face_20261019-123045.mp4\n"+
			"2026-10-19_12-31-45: b.wav, y.jpg, /out/b-y.mp4\n",
		string(data))

	records, err := log.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"b.wav", "y.jpg", "/out/b-y.mp4"}, records[1].Files)
	assert.True(t, records[0].Timestamp.Equal(ts))
}

func TestRunLog_TextSplitsNamesContainingSeparator(t *testing.T) {
	log := NewRunLog(filepath.Join(t.TempDir(), "output_list.log"))
	require.NoError(t, log.Append(NewRunRecord(ts, "r1", "voice.wav", "face.png", "/out/a, b.mp4")))

	records, err := log.Read()

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"voice.wav", "face.png", "/out/a", "b.mp4"}, records[0].Files)
}

func TestRunLog_CSVHeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "output_list.csv")
	log := NewRunLog(path)

	require.NoError(t, log.Append(NewRunRecord(ts, "r1", "voice.wav", "face.png", "/out/a, b.mp4")))
	require.NoError(t, log.Append(NewRunRecord(ts, "r2", "b.wav", "y.jpg", "/out/c.mp4")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Datetime,File 1,File 2,File 3,Run ID", lines[0])
	assert.Equal(t, `2026-10-19_12-30-45,voice.wav,face.png,"/out/a, b.mp4",r1`, lines[1])

	records, err := log.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].RunID)
	assert.Equal(t, []string{"voice.wav", "face.png", "/out/a, b.mp4"}, records[0].Files)
}

func TestRunLog_JSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	log := NewRunLog(path)

	require.NoError(t, log.Append(NewRunRecord(ts, "r1", "voice.wav", "face.png", "/out/x.mp4")))
	// a torn trailing line must not hide earlier records
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"timestamp":"2026-10-19T12:3`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := log.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].RunID)
}

func TestRunLog_ReadMissing(t *testing.T) {
	records, err := NewRunLog(filepath.Join(t.TempDir(), "none.log")).Read()
	require.NoError(t, err)
	assert.Empty(t, records)
}
