package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"post_worker/core/domain"
	"post_worker/core/port/out"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileHistoryWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is empty history", func(t *testing.T) {
		h := NewFileHistory(filepath.Join(t.TempDir(), "history.jsonl"))
		w, err := h.Window(ctx, 10)
		if err != nil || w.Count != 0 || len(w.Recent) != 0 {
			t.Errorf("Window() = %+v, %v", w, err)
		}
	})

	t.Run("newest first with legacy and broken lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.jsonl")
		writeLines(t, path,
			`{"tweet_type":"insight","text":"oldest"}`,
			``,
			`not json`,
			`{"category":"fun_fact","text":"  middle  "}`,
			`{"category":"educational","text":""}`,
			`{"category":"educational","text":"newest"}`,
		)
		h := NewFileHistory(path)

		w, err := h.Window(ctx, 2)
		if err != nil {
			t.Fatalf("Window() error = %v", err)
		}
		if w.Count != 5 {
			t.Errorf("Count = %d, want 5 non-blank lines", w.Count)
		}
		if len(w.Recent) != 2 || w.Recent[0] != "newest" || w.Recent[1] != "middle" {
			t.Errorf("Recent = %q", w.Recent)
		}

		records, err := h.Records(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if records[0].Category != "insight" {
			t.Errorf("legacy tweet_type not read as category: %+v", records[0])
		}
	})
}

func TestFileHistoryAppend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "history.jsonl")
	h := NewFileHistory(path)

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	rec := domain.NewHistoryRecord(1887112233445566778, "run-1",
		domain.Candidate{Text: "first", Category: "insight", Tags: []string{"gate"}}, at)
	if err := h.Append(ctx, []domain.HistoryRecord{rec}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// a hand-edited file without a trailing newline
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString(`{"category":"x","text":"manual"}`)
	f.Close()

	rec.Text = "second"
	if err := h.Append(ctx, []domain.HistoryRecord{rec}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	w, _ := h.Window(ctx, 10)
	if w.Count != 3 || w.Recent[0] != "second" || w.Recent[1] != "manual" {
		t.Errorf("Window() = %+v", w)
	}

	records, _ := h.Records(ctx)
	if records[0].ID != 1887112233445566778 || records[0].RunID != "run-1" || !records[0].CreatedAt.Equal(at) {
		t.Errorf("record did not round trip: %+v", records[0])
	}
}

func TestFileHistoryHealCategories(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	writeLines(t, path,
		`{"id":1887112233445566778,"category":"unknown","text":"a"}`,
		`{"tweet_type":"","text":"b"}`,
		`broken {`,
		`{"category":"insight","text":"c"}`,
		`{"category":" Unknown ","text":"d"}`,
	)
	h := NewFileHistory(path)

	n, err := h.HealCategories(ctx, "educational")
	if err != nil {
		t.Fatalf("HealCategories() error = %v", err)
	}
	if n != 3 {
		t.Errorf("healed %d records, want 3", n)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 || lines[2] != "broken {" {
		t.Fatalf("unparsable lines must be kept verbatim: %q", lines)
	}
	var first map[string]json.RawMessage
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if string(first["id"]) != "1887112233445566778" {
		t.Errorf("id lost precision: %s", first["id"])
	}
	if string(first["category"]) != `"educational"` {
		t.Errorf("category = %s", first["category"])
	}
	if !strings.Contains(lines[1], `"tweet_type":"educational"`) {
		t.Errorf("legacy line not healed in place: %s", lines[1])
	}

	info, _ := os.Stat(path)
	if n, _ := h.HealCategories(ctx, "educational"); n != 0 {
		t.Errorf("second heal changed %d records", n)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(info.ModTime()) {
		t.Error("file rewritten although nothing changed")
	}
}

func TestFileQueueWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewFileQueueWriter(dir)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := w.WriteQueue(context.Background(), out.QueueBatch{
		RunID:     "run-1",
		CreatedAt: at,
		Queue:     []domain.Candidate{{Text: "t", Category: "insight", OpeningStyle: domain.OpeningTip, Language: "de", Tags: []string{"gate"}}},
	})
	if err != nil {
		t.Fatalf("WriteQueue() error = %v", err)
	}
	if filepath.Base(path) != "post_queue_2026-03-04_05-06-07.json" {
		t.Errorf("path = %s", path)
	}

	data, _ := os.ReadFile(path)
	var got struct {
		RunID string `json:"run_id"`
		Queue []struct {
			Category     string   `json:"category"`
			OpeningStyle string   `json:"opening_style"`
			Text         string   `json:"text"`
			Language     string   `json:"language"`
			Tags         []string `json:"tags"`
		} `json:"queue"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("queue file is not JSON: %v", err)
	}
	if got.RunID != "run-1" || len(got.Queue) != 1 || got.Queue[0].OpeningStyle != "tip" {
		t.Errorf("queue = %+v", got)
	}
}

func TestFileDiagnostics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_raw_output.txt")
	d := NewFileDiagnostics(path)
	d.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	d.RawOutput("first attempt")
	d.RawOutput("[\"last attempt\"]")
	d.Event("attempt %d outcome=%s", 1, "RATE_LIMITED")
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	got := string(data)
	if strings.Contains(got, "first attempt") || !strings.HasPrefix(got, "[\"last attempt\"]") {
		t.Errorf("raw output section = %q", got)
	}
	if !strings.Contains(got, "2026-01-01T00:00:00Z attempt 1 outcome=RATE_LIMITED") {
		t.Errorf("event missing: %q", got)
	}
}

func TestFileDiagnosticsBeginResetsEarlierRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_raw_output.txt")
	d := NewFileDiagnostics(path)

	d.Begin("run-1")
	d.RawOutput("RUN1 RAW")
	d.Event("run1 event")
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}

	d.Begin("run-2")
	d.Event("run2 rate limited")
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	got := string(data)
	for _, stale := range []string{"RUN1 RAW", "run1 event", "run-1"} {
		if strings.Contains(got, stale) {
			t.Errorf("diagnostics still contain %q: %q", stale, got)
		}
	}
	if !strings.Contains(got, "run run-2 started") || !strings.Contains(got, "run2 rate limited") {
		t.Errorf("second run missing: %q", got)
	}
	if n := len(d.Events()); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
}

func TestFileQueueWriterRemoveQueue(t *testing.T) {
	ctx := context.Background()
	w := NewFileQueueWriter(t.TempDir())

	path, err := w.WriteQueue(ctx, out.QueueBatch{RunID: "run-1", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("WriteQueue() error = %v", err)
	}
	if err := w.RemoveQueue(ctx, path); err != nil {
		t.Fatalf("RemoveQueue() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("queue file still present: %v", err)
	}
	if err := w.RemoveQueue(ctx, path); err != nil {
		t.Errorf("removing a missing file should succeed, got %v", err)
	}
}

func TestNewQueueDocument(t *testing.T) {
	batch := out.QueueBatch{
		RunID:     "run-9",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600)),
		Queue:     []domain.Candidate{{Text: "a", Category: "insight"}, {Text: "b", Category: "fun_fact", Tags: []string{"x"}}},
	}
	doc := newQueueDocument(batch)
	if doc.RunID != "run-9" || doc.Count != 2 || doc.CreatedAt.Location() != time.UTC {
		t.Errorf("document = %+v", doc)
	}
	if doc.Posts[1].Category != "fun_fact" || doc.Posts[1].Tags[0] != "x" {
		t.Errorf("posts = %+v", doc.Posts)
	}
	if doc.Posts[0].Tags == nil {
		t.Error("tags should be stored as an empty array, not null")
	}
}

func TestHistoryRowToDomain(t *testing.T) {
	row := historyRow{ID: 7, Category: "insight", OpeningStyle: "question", Text: "t", Tags: pq.StringArray{"gate"}}
	rec := row.toDomain()
	if rec.ID != 7 || rec.OpeningStyle != domain.OpeningQuestion || len(rec.Tags) != 1 {
		t.Errorf("toDomain() = %+v", rec)
	}
}
