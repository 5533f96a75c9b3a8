package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"intakewatch/internal/intake/models"
	"intakewatch/pkg/platform/sentinel"
)

// JSONLog is the append-only durability fallback: one JSON-encoded record per
// line, fsynced on every append. Ordering is arrival order. The file survives
// process restarts; appends never rewrite prior entries, so a crash can at
// worst lose the line being written.
type JSONLog struct {
	path string
	file *os.File
}

// NewJSONLog opens (or creates) the log at path for appending.
func NewJSONLog(path string) (*JSONLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open json log %s: %w", path, err)
	}
	return &JSONLog{path: path, file: file}, nil
}

// Save appends a record. The conflict policy does not apply here: the log is
// a journal, and duplicate keys are resolved at import time.
func (l *JSONLog) Save(_ context.Context, record models.PatientRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.RecordID, err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record %s: %w", record.RecordID, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync json log: %w", err)
	}
	return nil
}

// Backfill rewrites the single line holding the nearest unmatched record
// within the window. The rewrite goes through a temp file and rename so a
// crash mid-backfill leaves the original log intact.
func (l *JSONLog) Backfill(ctx context.Context, emrID string, observedAt time.Time, window time.Duration) error {
	records, err := l.Load(ctx)
	if err != nil {
		return err
	}

	best := -1
	var bestGap time.Duration
	for i, record := range records {
		if record.EMRID != "" {
			continue
		}
		gap := observedAt.Sub(record.CapturedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if best == -1 || gap < bestGap {
			best, bestGap = i, gap
		}
	}
	if best == -1 {
		return sentinel.ErrNotFound
	}

	records[best].EMRID = emrID
	records[best].Matched = true
	records[best].UpdatedAt = observedAt

	return l.rewrite(records)
}

// Load reads every record in the log, skipping lines that fail to decode
// (a torn final line after a crash is expected, not fatal).
func (l *JSONLog) Load(_ context.Context) ([]models.PatientRecord, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open json log %s: %w", l.path, err)
	}
	defer file.Close()

	var records []models.PatientRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record models.PatientRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json log %s: %w", l.path, err)
	}
	return records, nil
}

func (l *JSONLog) rewrite(records []models.PatientRecord) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode record %s: %w", record.RecordID, err)
		}
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp log: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("swap json log: %w", err)
	}

	// The append handle points at the replaced inode; reopen it.
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close stale log handle: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen json log %s: %w", l.path, err)
	}
	l.file = file
	return nil
}

// Close releases the append handle.
func (l *JSONLog) Close() error {
	return l.file.Close()
}
