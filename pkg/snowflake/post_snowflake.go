// Package snowflake generates time-sortable 64-bit ids for history records.
//
// Layout (64 bits):
//
//	┌─────────┬─────────────────────┬────────────┬──────────────┐
//	│ 1 bit   │      41 bits        │  10 bits   │   12 bits    │
//	│ sign(0) │ timestamp (ms)      │ node_id    │  sequence    │
//	└─────────┴─────────────────────┴────────────┴──────────────┘
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Custom epoch: 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	MaxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = nodeBits + sequenceBits
	nodeShift      = sequenceBits

	// maxSkew is how far the clock may step back before Next gives up.
	maxSkew = 10 * time.Millisecond
)

var (
	ErrInvalidNode    = errors.New("node id must be between 0 and 1023")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator hands out ids for one node. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastTime int64
	now      func() time.Time
}

func NewGenerator(node int64) (*Generator, error) {
	return newGenerator(node, time.Now)
}

func newGenerator(node int64, now func() time.Time) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, ErrInvalidNode
	}
	return &Generator{node: node, now: now}, nil
}

// Next returns a new id. A clock that steps back by less than maxSkew is
// waited out.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.millis()
	if now < g.lastTime {
		if time.Duration(g.lastTime-now)*time.Millisecond > maxSkew {
			return 0, ErrClockMovedBack
		}
		now = g.waitAfter(g.lastTime - 1)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now = g.waitAfter(g.lastTime)
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	return ((now - epoch) << timestampShift) | (g.node << nodeShift) | g.sequence, nil
}

// NextN returns n ids in increasing order.
func (g *Generator) NextN(n int) ([]int64, error) {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := g.Next()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Parse splits an id into its parts.
func Parse(id int64) (at time.Time, node int64, sequence int64) {
	at = time.UnixMilli((id >> timestampShift) + epoch).UTC()
	node = (id >> nodeShift) & MaxNode
	sequence = id & maxSequence
	return
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

func (g *Generator) waitAfter(last int64) int64 {
	now := g.millis()
	for now <= last {
		time.Sleep(100 * time.Microsecond)
		now = g.millis()
	}
	return now
}
