// Package audit writes a rotating, append-only log of job lifecycle
// actions taken through the RPC facades: submit, dispatch, finalize,
// cancel. It is grounded on the rbac-and-tokens audit logger, trimmed to
// the single Log operation the scheduler needs (no query/filter surface).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one recorded scheduler action.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	JobID     string    `json:"job_id,omitempty"`
	Token     string    `json:"token,omitempty"`
	Role      string    `json:"role,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Result    string    `json:"result"`
	Detail    string    `json:"detail,omitempty"`
}

// Logger writes Entry values as newline-delimited JSON to a rotating file.
type Logger struct {
	mu   sync.Mutex
	file *lumberjack.Logger
}

// New constructs a Logger writing to path, rotated at maxSizeMB with
// maxBackups retained, optionally gzip-compressed.
func New(path string, maxSizeMB, maxBackups int, compress bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: creating log directory: %w", err)
	}
	return &Logger{
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   compress,
		},
	}, nil
}

// Log writes entry, stamping the timestamp if unset.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(append(raw, '\n'))
	return err
}

// Close flushes and closes the underlying rotating file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// Noop returns a Logger that discards every entry, for configurations that
// run without audit logging enabled.
func Noop() *Logger {
	return &Logger{file: &lumberjack.Logger{Filename: os.DevNull}}
}
