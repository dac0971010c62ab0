package snowflake

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name    string
		node    int64
		wantErr bool
	}{
		{"node 0", 0, false},
		{"node max", MaxNode, false},
		{"negative node", -1, true},
		{"node too large", MaxNode + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.node)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGenerator(%d) error = %v, wantErr %v", tt.node, err, tt.wantErr)
			}
		})
	}
}

func TestNextIsUniqueAndIncreasing(t *testing.T) {
	gen, err := NewGenerator(7)
	if err != nil {
		t.Fatal(err)
	}

	ids, err := gen.NextN(5000)
	if err != nil {
		t.Fatalf("NextN() error = %v", err)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("id %d (%d) not greater than previous (%d)", i, ids[i], ids[i-1])
		}
	}
}

func TestNextConcurrent(t *testing.T) {
	gen, _ := NewGenerator(1)

	var wg sync.WaitGroup
	var seen sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id, err := gen.Next()
				if err != nil {
					t.Errorf("Next() error = %v", err)
					return
				}
				if _, dup := seen.LoadOrStore(id, true); dup {
					t.Errorf("duplicate id %d", id)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestParse(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gen, _ := newGenerator(42, func() time.Time { return at })

	first, _ := gen.Next()
	second, _ := gen.Next()

	ts, node, seq := Parse(second)
	if !ts.Equal(at) {
		t.Errorf("timestamp = %v, want %v", ts, at)
	}
	if node != 42 {
		t.Errorf("node = %d, want 42", node)
	}
	if seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}
	if _, _, s := Parse(first); s != 0 {
		t.Errorf("first sequence = %d, want 0", s)
	}
}

func TestClockMovedBack(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gen, _ := newGenerator(1, func() time.Time { return at })
	if _, err := gen.Next(); err != nil {
		t.Fatal(err)
	}

	at = at.Add(-time.Second)
	if _, err := gen.Next(); !errors.Is(err, ErrClockMovedBack) {
		t.Errorf("expected ErrClockMovedBack, got %v", err)
	}
}
