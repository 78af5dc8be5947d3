// Package events records pipeline run transitions as an append-only JSONL
// stream, one file per derivatives root, rotated by size.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize caps the active log file before rotation (16MB).
	DefaultMaxLogSize = 16 * 1024 * 1024
	logFileExtension  = ".jsonl"
	archiveDir        = "archive"
)

// Entry is one recorded transition. Unit names the
// subject/session/modality invocation; Stage is empty for run-level events.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Event names written by the batch runner.
const (
	EventRunStart    = "run_start"
	EventStageStart  = "stage_start"
	EventStageDone   = "stage_done"
	EventStageFailed = "stage_failed"
	EventRunDone     = "run_done"
	EventRunFailed   = "run_failed"
	EventRunRejected = "run_rejected"
)

// Log is an append-only JSONL writer with size-based rotation. Safe for
// concurrent use by parallel pipeline workers.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	size    int64
	maxSize int64
	path    string
}

func Open(path string, maxSize int64) (*Log, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	l := &Log{path: path, maxSize: maxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat event log: %w", err)
	}
	l.file = f
	l.size = st.Size()
	return nil
}

// Record appends one entry, stamping it with the current UTC time.
func (l *Log) Record(event, runID, unit, stage string, details map[string]string) error {
	return l.write(&Entry{
		Timestamp: time.Now().UTC(),
		Event:     event,
		RunID:     runID,
		Unit:      unit,
		Stage:     stage,
		Details:   details,
	})
}

func (l *Log) write(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event entry: %w", err)
	}
	data = append(data, '\n')

	if l.size+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate event log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write event entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	l.size += int64(n)
	return nil
}

func (l *Log) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	dir := filepath.Join(filepath.Dir(l.path), archiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	base := filepath.Base(l.path)
	stem := base[:len(base)-len(logFileExtension)]
	archived := fmt.Sprintf("%s.%s%s", stem, time.Now().Format("20060102_150405.000"), logFileExtension)
	if err := os.Rename(l.path, filepath.Join(dir, archived)); err != nil {
		return err
	}
	return l.open()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Read loads every entry in a log file, skipping malformed lines.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
