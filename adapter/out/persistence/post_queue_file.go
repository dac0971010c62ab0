package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

const queueTimeLayout = "2006-01-02_15-04-05"

// FileQueueWriter writes each accepted batch to its own timestamped file.
type FileQueueWriter struct {
	dir string
}

var _ out.QueueWriter = (*FileQueueWriter)(nil)

func NewFileQueueWriter(dir string) *FileQueueWriter {
	return &FileQueueWriter{dir: dir}
}

// QueuePath returns the file a batch created at t is written to.
func (w *FileQueueWriter) QueuePath(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("post_queue_%s.json", t.Format(queueTimeLayout)))
}

func (w *FileQueueWriter) WriteQueue(ctx context.Context, batch out.QueueBatch) (string, error) {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", apperr.StorageError("encode queue", err)
	}

	path := w.QueuePath(batch.CreatedAt)
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return "", apperr.StorageError("write queue", err)
	}
	return path, nil
}

func (w *FileQueueWriter) RemoveQueue(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.StorageError("remove queue", err)
	}
	return nil
}

// FileDiagnostics keeps the raw output of the latest attempt and the retry
// event log, and overwrites its file on Flush.
type FileDiagnostics struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	raw    string
	events []string
}

var _ out.DiagnosticSink = (*FileDiagnostics)(nil)

func NewFileDiagnostics(path string) *FileDiagnostics {
	return &FileDiagnostics{path: path, now: time.Now}
}

// Begin starts a fresh record for runID.
func (d *FileDiagnostics) Begin(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = ""
	d.events = d.events[:0]
	d.events = append(d.events, fmt.Sprintf("%s run %s started", d.now().UTC().Format(time.RFC3339), runID))
}

func (d *FileDiagnostics) RawOutput(raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = raw
}

func (d *FileDiagnostics) Event(format string, args ...any) {
	line := fmt.Sprintf("%s %s", d.now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, line)
}

// Events returns a copy of the recorded event lines.
func (d *FileDiagnostics) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *FileDiagnostics) Flush() error {
	d.mu.Lock()
	var sb strings.Builder
	sb.WriteString(d.raw)
	if !strings.HasSuffix(d.raw, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\n--- events ---\n")
	for _, line := range d.events {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return apperr.StorageError("create diagnostics dir", err)
	}
	if err := os.WriteFile(d.path, []byte(sb.String()), 0o644); err != nil {
		return apperr.StorageError("write diagnostics", err)
	}
	return nil
}
