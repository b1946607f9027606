package core

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionIDGenerator_Format(t *testing.T) {
	gen := NewSubscriptionIDGenerator()

	id := gen.Generate()
	counter, rest, ok := strings.Cut(id, "-")
	require.True(t, ok, "id should contain a counter prefix: %s", id)
	assert.Equal(t, "1", counter)

	parsed, err := uuid.Parse(rest)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestSubscriptionIDGenerator_CounterIsHex(t *testing.T) {
	gen := NewSubscriptionIDGenerator()

	var last string
	for i := 0; i < 16; i++ {
		last = gen.Generate()
	}
	assert.True(t, strings.HasPrefix(last, "10-"), "16th id should start with hex 10: %s", last)
}

func TestSubscriptionIDGenerator_Unique(t *testing.T) {
	gen := NewSubscriptionIDGenerator()
	const goroutines = 20
	const perGoroutine = 200

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "rapid calls must never collide")
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("sub-a", "sub-b")

	assert.Equal(t, "sub-a", gen.Generate())
	assert.Equal(t, "sub-b", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() {
		gen.Generate()
	})
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("")
	assert.Equal(t, "sub-1", gen.Generate())
	assert.Equal(t, "sub-2", gen.Generate())

	named := NewSequenceGenerator("h")
	assert.Equal(t, "h-1", named.Generate())
}
