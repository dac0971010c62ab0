package out

import (
	"context"
	"time"

	"post_worker/core/domain"
)

// HistoryRepository is the append-only log of accepted posts.
type HistoryRepository interface {
	// Window returns the non-empty entry count and up to limit texts,
	// newest first.
	Window(ctx context.Context, limit int) (domain.HistoryWindow, error)
	// Append adds records in order.
	Append(ctx context.Context, records []domain.HistoryRecord) error
	// HealCategories rewrites empty or "unknown" categories to fallback and
	// returns how many records changed.
	HealCategories(ctx context.Context, fallback string) (int, error)
}

// QueueBatch is an accepted batch ready to be written out.
type QueueBatch struct {
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Queue     []domain.Candidate `json:"queue"`
}

// QueueWriter persists an accepted batch and returns where it went.
// RemoveQueue undoes a write whose history append failed.
type QueueWriter interface {
	WriteQueue(ctx context.Context, batch QueueBatch) (string, error)
	RemoveQueue(ctx context.Context, path string) error
}

// QueueArchive is an optional secondary copy of accepted batches.
type QueueArchive interface {
	Archive(ctx context.Context, batch QueueBatch) error
}

// DiagnosticSink receives the raw model output and retry events of a run.
// Begin discards whatever an earlier run recorded. It is for debugging only.
type DiagnosticSink interface {
	Begin(runID string)
	RawOutput(raw string)
	Event(format string, args ...any)
	Flush() error
}
