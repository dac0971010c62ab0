package persistence

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"post_worker/core/domain"
	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

// maxLineSize bounds a single history line.
const maxLineSize = 1 << 20

// FileHistory stores history as JSON lines, oldest first. It assumes a
// single writer.
type FileHistory struct {
	path string
}

var _ out.HistoryRepository = (*FileHistory)(nil)

func NewFileHistory(path string) *FileHistory {
	return &FileHistory{path: path}
}

func (h *FileHistory) Path() string { return h.path }

// historyLine is the on-disk record. Older files carry tweet_type instead
// of category.
type historyLine struct {
	domain.HistoryRecord
	TweetType string `json:"tweet_type,omitempty"`
}

func (l historyLine) category() string {
	if strings.TrimSpace(l.Category) != "" {
		return l.Category
	}
	return l.TweetType
}

func (h *FileHistory) readLines() ([][]byte, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.StorageError("read history", err)
	}

	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.StorageError("scan history", err)
	}
	return lines, nil
}

// Window counts non-blank lines and returns the newest texts first. Lines
// that do not parse still count toward rotation.
func (h *FileHistory) Window(ctx context.Context, limit int) (domain.HistoryWindow, error) {
	lines, err := h.readLines()
	if err != nil {
		return domain.HistoryWindow{}, err
	}

	var w domain.HistoryWindow
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) > 0 {
			w.Count++
		}
	}

	for i := len(lines) - 1; i >= 0 && len(w.Recent) < limit; i-- {
		var rec historyLine
		if err := json.Unmarshal(lines[i], &rec); err != nil {
			continue
		}
		if text := strings.TrimSpace(rec.Text); text != "" {
			w.Recent = append(w.Recent, text)
		}
	}
	return w, nil
}

// Records returns every parseable record in file order.
func (h *FileHistory) Records(ctx context.Context) ([]domain.HistoryRecord, error) {
	lines, err := h.readLines()
	if err != nil {
		return nil, err
	}
	records := make([]domain.HistoryRecord, 0, len(lines))
	for _, line := range lines {
		var rec historyLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		rec.Category = rec.category()
		records = append(records, rec.HistoryRecord)
	}
	return records, nil
}

func (h *FileHistory) Append(ctx context.Context, records []domain.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return apperr.StorageError("encode history record", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return apperr.StorageError("create history dir", err)
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return apperr.StorageError("open history", err)
	}
	defer f.Close()

	if err := ensureTrailingNewline(f); err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return apperr.StorageError("append history", err)
	}
	return nil
}

// ensureTrailingNewline keeps a hand-edited last line from being merged
// with the next record.
func ensureTrailingNewline(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return apperr.StorageError("read history tail", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return apperr.StorageError("append history", err)
	}
	return nil
}

// HealCategories rewrites empty or unknown categories to fallback. Lines
// that do not parse are kept verbatim and the file is only rewritten when
// something changed.
func (h *FileHistory) HealCategories(ctx context.Context, fallback string) (int, error) {
	lines, err := h.readLines()
	if err != nil || len(lines) == 0 {
		return 0, err
	}

	encodedFallback, err := json.Marshal(fallback)
	if err != nil {
		return 0, apperr.StorageError("encode fallback category", err)
	}

	changed := 0
	for i, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			continue
		}

		key := "category"
		if _, hasCategory := fields["category"]; !hasCategory {
			if _, legacy := fields["tweet_type"]; legacy {
				key = "tweet_type"
			}
		}

		var current string
		if raw, ok := fields[key]; ok {
			_ = json.Unmarshal(raw, &current)
		}
		if !domain.NeedsHeal(current) {
			continue
		}

		fields[key] = encodedFallback
		updated, err := json.Marshal(fields)
		if err != nil {
			return 0, apperr.StorageError("encode healed record", err)
		}
		lines[i] = updated
		changed++
	}

	if changed == 0 {
		return 0, nil
	}
	if err := writeFileAtomic(h.path, append(bytes.Join(lines, []byte{'\n'}), '\n')); err != nil {
		return 0, apperr.StorageError("rewrite history", err)
	}
	return changed, nil
}

// writeFileAtomic writes through a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
