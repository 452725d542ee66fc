package paygate

import (
	"context"
	"sync"
)

// ReplayGuard records consumed derivation prefixes.
//
// Record must be an atomic insert-if-absent: when two requests race to
// record the same prefix exactly one of them gets true.
type ReplayGuard interface {
	// Seen reports whether prefix has already been consumed.
	Seen(ctx context.Context, prefix string) (bool, error)

	// Record marks prefix consumed. It returns false if it already was.
	Record(ctx context.Context, prefix string) (bool, error)
}

const (
	// DefaultReplayCapacity bounds the in-memory replay set.
	DefaultReplayCapacity = 10000

	// DefaultReplayPrune is how many of the oldest prefixes are evicted when
	// the bound would be exceeded.
	DefaultReplayPrune = 5000
)

// MemoryReplayGuard is a bounded in-process ReplayGuard. Prefixes are
// evicted oldest first, in bulk, once capacity would be exceeded. An evicted
// prefix is no longer detected as a replay, so capacity is a memory tunable
// and not a guarantee against arbitrarily late replays.
type MemoryReplayGuard struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
	prune    int
}

// NewMemoryReplayGuard creates a guard holding at most capacity prefixes and
// evicting prune of them at a time. Non-positive values select the defaults.
func NewMemoryReplayGuard(capacity, prune int) *MemoryReplayGuard {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	if prune <= 0 {
		prune = DefaultReplayPrune
	}
	if prune > capacity {
		prune = capacity
	}
	return &MemoryReplayGuard{
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
		prune:    prune,
	}
}

// Seen reports whether prefix is in the set.
func (g *MemoryReplayGuard) Seen(_ context.Context, prefix string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.seen[prefix]
	return ok, nil
}

// Record inserts prefix if absent, evicting the oldest entries first when the
// set is full.
func (g *MemoryReplayGuard) Record(_ context.Context, prefix string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[prefix]; ok {
		return false, nil
	}
	if len(g.order)+1 > g.capacity {
		g.evictOldest(g.prune)
	}
	g.seen[prefix] = struct{}{}
	g.order = append(g.order, prefix)
	return true, nil
}

// Len returns the number of prefixes held.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

func (g *MemoryReplayGuard) evictOldest(n int) {
	if n > len(g.order) {
		n = len(g.order)
	}
	for _, prefix := range g.order[:n] {
		delete(g.seen, prefix)
	}
	// copy so the evicted head can be collected
	rest := make([]string, len(g.order)-n, g.capacity)
	copy(rest, g.order[n:])
	g.order = rest
}
