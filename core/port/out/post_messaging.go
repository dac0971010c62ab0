package out

import (
	"context"
	"time"
)

// QueueReadyEvent announces a written batch to downstream consumers.
type QueueReadyEvent struct {
	RunID      string    `json:"run_id"`
	QueuePath  string    `json:"queue_path"`
	Count      int       `json:"count"`
	Categories []string  `json:"categories"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStatus is the summary of the latest run on a node.
type RunStatus struct {
	RunID      string
	NodeID     int64
	Outcome    string
	Generation string
	Accepted   int
	Attempts   int
	QueuePath  string
	FinishedAt time.Time
}

// RunNotifier publishes run results. Failures never fail a run.
type RunNotifier interface {
	NotifyQueue(ctx context.Context, event QueueReadyEvent) error
	SetRunStatus(ctx context.Context, status RunStatus) error
}
