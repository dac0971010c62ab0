// Package ratelimit paces calls to external services and keeps concurrent
// runs apart. Redis makes both work across processes; without Redis the
// limiter falls back to a process-local window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// SlidingWindowLimiter
// =============================================================================

// slidingWindowScript returns 1 when the call is admitted, otherwise the
// negative number of milliseconds until the oldest entry leaves the window.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(tonumber(oldest[2]) + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter admits at most limit calls per window and key.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewSlidingWindowLimiter creates a limiter. A nil client keeps the window
// in memory. limit below one disables limiting.
func NewSlidingWindowLimiter(client *redis.Client, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
		local:  make(map[string][]time.Time),
	}
}

// PerMinute is a limiter for n calls per minute.
func PerMinute(client *redis.Client, n int) *SlidingWindowLimiter {
	return NewSlidingWindowLimiter(client, n, time.Minute)
}

// Allow checks if a call is admitted now and returns the wait otherwise.
// Redis errors fall back to the local window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.limit < 1 {
		return true, 0
	}
	now := l.now()

	if l.redis != nil {
		result, err := slidingWindowScript.Run(ctx, l.redis, []string{l.prefix + key},
			now.UnixMilli(),
			now.Add(-l.window).UnixMilli(),
			l.limit,
			l.window.Milliseconds(),
			fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
		).Int64()
		if err == nil {
			switch {
			case result == 1:
				return true, 0
			case result < 0:
				return false, time.Duration(-result) * time.Millisecond
			default:
				return false, l.window
			}
		}
	}

	return l.allowLocal(key, now)
}

func (l *SlidingWindowLimiter) allowLocal(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Add(-l.window)
	kept := l.local[key][:0]
	for _, t := range l.local[key] {
		if t.After(start) {
			kept = append(kept, t)
		}
	}
	if len(kept) < l.limit {
		l.local[key] = append(kept, now)
		return true, 0
	}
	l.local[key] = kept
	return false, kept[0].Add(l.window).Sub(now)
}

// Wait blocks until a call for key is admitted or ctx is done.
func (l *SlidingWindowLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, wait := l.Allow(ctx, key)
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// =============================================================================
// RunLock
// =============================================================================

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another run")

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RunLock is a Redis lock with an owner token, so an expired holder cannot
// release a lock taken over by someone else.
type RunLock struct {
	redis  *redis.Client
	prefix string
}

func NewRunLock(client *redis.Client) *RunLock {
	return &RunLock{redis: client, prefix: "lock:"}
}

// Acquire takes the lock for ttl. The returned release is safe to call more
// than once.
func (l *RunLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.redis, []string{l.prefix + key}, token)
		})
	}
	return release, nil
}
