package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"post_worker/core/port/out"
)

func newNotifier(t *testing.T) (*RedisNotifier, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisNotifier(client), client, mr
}

func TestNotifyQueue(t *testing.T) {
	n, client, _ := newNotifier(t)
	ctx := context.Background()

	event := out.QueueReadyEvent{
		RunID:      "run-1",
		QueuePath:  "out/post_queue_2024-05-01_12-00-00.json",
		Count:      2,
		Categories: []string{"educational", "insight"},
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := n.NotifyQueue(ctx, event); err != nil {
		t.Fatalf("NotifyQueue() error = %v", err)
	}

	msgs, err := client.XRange(ctx, StreamQueueReady, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stream has %d entries, want 1", len(msgs))
	}
	if msgs[0].Values["run_id"] != "run-1" {
		t.Errorf("run_id = %v", msgs[0].Values["run_id"])
	}

	var got out.QueueReadyEvent
	if err := json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Count != 2 || got.QueuePath != event.QueuePath || !got.CreatedAt.Equal(event.CreatedAt) {
		t.Errorf("payload = %+v", got)
	}
}

func TestRunStatus(t *testing.T) {
	n, _, mr := newNotifier(t)
	ctx := context.Background()

	if st, err := n.RunStatus(ctx, 3); err != nil || st != nil {
		t.Fatalf("missing status = %+v, %v", st, err)
	}

	finished := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	err := n.SetRunStatus(ctx, out.RunStatus{
		RunID:      "run-2",
		NodeID:     3,
		Outcome:    "accepted",
		Generation: "SUCCESS",
		Accepted:   4,
		Attempts:   2,
		QueuePath:  "out/q.json",
		FinishedAt: finished,
	})
	if err != nil {
		t.Fatalf("SetRunStatus() error = %v", err)
	}

	st, err := n.RunStatus(ctx, 3)
	if err != nil {
		t.Fatalf("RunStatus() error = %v", err)
	}
	if st.RunID != "run-2" || st.Accepted != 4 || st.Attempts != 2 || !st.FinishedAt.Equal(finished) {
		t.Errorf("status = %+v", st)
	}
	if ttl := mr.TTL(runStatusKey + "3"); ttl != runStatusTTL {
		t.Errorf("ttl = %v, want %v", ttl, runStatusTTL)
	}
}
