package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SyncRecord is one completed sync run, appended to the history log.
type SyncRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Repository    string    `json:"repository"`
	Branch        string    `json:"branch"`
	Commit        string    `json:"commit,omitempty"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	FilesIndexed  int       `json:"files_indexed"`
	FilesSkipped  int       `json:"files_skipped,omitempty"`
	FilesFailed   int       `json:"files_failed,omitempty"`
	FilesDeleted  int       `json:"files_deleted,omitempty"`
	ChunksIndexed int       `json:"chunks_indexed"`
	ElapsedMillis int64     `json:"elapsed_ms"`
	Forced        bool      `json:"forced,omitempty"`
}

// HistoryLog appends sync outcomes to a JSONL file, one record per line.
// Appends are serialized; the file is opened per write so concurrent repovec
// processes interleave whole lines.
type HistoryLog struct {
	mu   sync.Mutex
	path string
}

// NewHistoryLog creates a history log at path. The parent directory is
// created on first append.
func NewHistoryLog(path string) (*HistoryLog, error) {
	if path == "" {
		return nil, fmt.Errorf("history log path required")
	}
	return &HistoryLog{path: path}, nil
}

// Append writes one record. A zero Timestamp is stamped with the current time.
func (h *HistoryLog) Append(rec SyncRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. Lines that fail to parse
// are skipped so one corrupt entry cannot hide the rest of the history.
func (h *HistoryLog) Recent(limit int) ([]SyncRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var records []SyncRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec SyncRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history log: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
