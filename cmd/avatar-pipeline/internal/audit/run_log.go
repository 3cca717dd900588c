// Package audit keeps the append-only log of completed pipeline runs.
package audit

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TextTimestampLayout is the timestamp used by the text and CSV formats.
const TextTimestampLayout = "2006-01-02_15-04-05"

// Format is the on-disk encoding of the run log.
type Format string

const (
	FormatText  Format = "text"
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// FormatFor selects the format from the file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".jsonl":
		return FormatJSONL
	default:
		return FormatText
	}
}

// RunRecord describes one completed run: the consumed inputs followed by the
// produced output.
type RunRecord struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Files     []string  `json:"files"`
}

// NewRunRecord builds the record of a run from its audio, image and final output.
func NewRunRecord(ts time.Time, runID, audio, image, output string) RunRecord {
	return RunRecord{Timestamp: ts, RunID: runID, Files: []string{audio, image, output}}
}

// RunLog appends run records to a single file.
type RunLog struct {
	path   string
	format Format
	mu     sync.Mutex
}

// NewRunLog creates a RunLog writing to path in the format its extension selects.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path, format: FormatFor(path)}
}

// Path returns the log file path.
func (l *RunLog) Path() string {
	return l.path
}

// Format returns the log encoding.
func (l *RunLog) Format() Format {
	return l.format
}

// Append writes rec as one line (one row, plus the header when the CSV file
// is new) in a single write on an O_APPEND descriptor, so an interrupted
// append cannot damage earlier records.
func (l *RunLog) Append(rec RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create run log directory: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat run log: %w", err)
	}

	data, err := l.encode(rec, info.Size() == 0)
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

func (l *RunLog) encode(rec RunRecord, fresh bool) ([]byte, error) {
	switch l.format {
	case FormatJSONL:
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run record: %w", err)
		}
		return append(data, '\n'), nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if fresh {
			header := []string{"Datetime"}
			for i := range rec.Files {
				header = append(header, fmt.Sprintf("File %d", i+1))
			}
			header = append(header, "Run ID")
			if err := w.Write(header); err != nil {
				return nil, err
			}
		}
		row := append([]string{rec.Timestamp.Format(TextTimestampLayout)}, rec.Files...)
		row = append(row, rec.RunID)
		if err := w.Write(row); err != nil {
			return nil, err
		}
		w.Flush()
		return buf.Bytes(), w.Error()

	default:
		line := fmt.Sprintf("%s: %s\n", rec.Timestamp.Format(TextTimestampLayout), strings.Join(rec.Files, ", "))
		return []byte(line), nil
	}
}

// Read returns every record in file order. A missing log yields no records.
func (l *RunLog) Read() ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer file.Close()

	switch l.format {
	case FormatJSONL:
		return readJSONL(file)
	case FormatCSV:
		return readCSV(file)
	default:
		return readText(file)
	}
}

func readJSONL(r io.Reader) ([]RunRecord, error) {
	var records []RunRecord
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// skip a torn or hand-edited line
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func readCSV(r io.Reader) ([]RunRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse run log: %w", err)
	}

	var records []RunRecord
	hasRunID := false
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if row[0] == "Datetime" {
			hasRunID = row[len(row)-1] == "Run ID"
			continue
		}
		ts, err := time.ParseInLocation(TextTimestampLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		rec := RunRecord{Timestamp: ts, Files: row[1:]}
		if hasRunID && len(row) > 1 {
			rec.RunID = row[len(row)-1]
			rec.Files = row[1 : len(row)-1]
		}
		records = append(records, rec)
	}
	return records, nil
}

// readText splits each line on ", ", so a file name that itself contains ", "
// reads back as several entries. Use .csv or .jsonl when names may contain it.
func readText(r io.Reader) ([]RunRecord, error) {
	var records []RunRecord
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		stamp, rest, ok := strings.Cut(scanner.Text(), ": ")
		if !ok {
			continue
		}
		ts, err := time.ParseInLocation(TextTimestampLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		records = append(records, RunRecord{Timestamp: ts, Files: strings.Split(rest, ", ")})
	}
	return records, scanner.Err()
}
