package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces subscription ids.
// Implemented by SubscriptionIDGenerator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// SubscriptionIDGenerator joins a monotonic counter with a UUIDv7.
//
// The counter makes ids unique within one process even when many are
// produced in the same millisecond; the UUIDv7 carries a 48-bit millisecond
// timestamp plus random bits, which keeps ids unique across restarts.
//
// Format: "<counter hex>-<uuidv7>", e.g. "1f-0190f6b4-8c3a-7d2e-9a41-5b7c2e1f0a93".
//
// Thread-safety: safe for concurrent use.
type SubscriptionIDGenerator struct {
	counter atomic.Uint64
}

// NewSubscriptionIDGenerator creates a generator whose counter starts at 0.
func NewSubscriptionIDGenerator() *SubscriptionIDGenerator {
	return &SubscriptionIDGenerator{}
}

// Generate returns a fresh subscription id.
//
// Panics if UUID generation fails (should never happen in practice).
func (g *SubscriptionIDGenerator) Generate() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%x-%s", n, uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("sub-1", "sub-2")
//	gen.Generate() // "sub-1"
//	gen.Generate() // "sub-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, to catch a test that subscribes
// more often than it planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequenceGenerator returns "<prefix>-1", "<prefix>-2", ...
// Deterministic and never exhausted; used by the scenario harness.
type SequenceGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequenceGenerator creates a SequenceGenerator. An empty prefix defaults to "sub".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "sub"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.counter.Add(1))
}
