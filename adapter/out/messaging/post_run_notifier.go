// Package messaging publishes run results on Redis.
package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"post_worker/core/port/out"
)

// Stream and key names
const (
	StreamQueueReady = "posts:queue_ready"
	runStatusKey     = "posts:run:last:"
	runStatusTTL     = 24 * time.Hour
	streamMaxLen     = 1000
)

// RedisNotifier implements out.RunNotifier using Redis Streams and hashes.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

var _ out.RunNotifier = (*RedisNotifier)(nil)

// NotifyQueue appends the event to the queue-ready stream. The stream is
// trimmed to about the last thousand entries.
func (n *RedisNotifier) NotifyQueue(ctx context.Context, event out.QueueReadyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamQueueReady,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"run_id": event.RunID,
			"data":   string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", StreamQueueReady, err)
	}
	return nil
}

// SetRunStatus stores the latest run of a node in a hash that expires after
// a day.
func (n *RedisNotifier) SetRunStatus(ctx context.Context, status out.RunStatus) error {
	key := runStatusKey + strconv.FormatInt(status.NodeID, 10)

	_, err := n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"run_id", status.RunID,
			"outcome", status.Outcome,
			"generation", status.Generation,
			"accepted", status.Accepted,
			"attempts", status.Attempts,
			"queue_path", status.QueuePath,
			"finished_at", status.FinishedAt.UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, runStatusTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set run status: %w", err)
	}
	return nil
}

// RunStatus reads the latest run of a node. A missing entry returns nil.
func (n *RedisNotifier) RunStatus(ctx context.Context, nodeID int64) (*out.RunStatus, error) {
	key := runStatusKey + strconv.FormatInt(nodeID, 10)

	result, err := n.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run status: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	status := &out.RunStatus{
		RunID:      result["run_id"],
		NodeID:     nodeID,
		Outcome:    result["outcome"],
		Generation: result["generation"],
		QueuePath:  result["queue_path"],
	}
	status.Accepted, _ = strconv.Atoi(result["accepted"])
	status.Attempts, _ = strconv.Atoi(result["attempts"])
	status.FinishedAt, _ = time.Parse(time.RFC3339, result["finished_at"])
	return status, nil
}
