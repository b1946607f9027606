package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(Event{Type: EventTypeNotify, ViewID: "counter", SubscriptionID: "sub-1"})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeNotify, got.Type)
	assert.Equal(t, "sub-1", got.SubscriptionID)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{SubscriptionID: "A"})
	q.Enqueue(Event{SubscriptionID: "B"}, Event{SubscriptionID: "C"})

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.SubscriptionID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_EnqueueNothing(t *testing.T) {
	q := newEventQueue()

	assert.True(t, q.Enqueue())
	assert.Equal(t, 0, q.Len())

	select {
	case <-q.Wait():
		t.Fatal("empty enqueue should not signal")
	default:
	}
}

func TestEventQueue_Wait_Signals(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{SubscriptionID: "a"})
	q.Enqueue(Event{SubscriptionID: "b"})

	// Signals coalesce into the buffer of one.
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected signal")
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{SubscriptionID: "pending"})

	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(Event{SubscriptionID: "late"}), "enqueue after close should fail")

	// Closed signal fires immediately.
	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}

	e, ok := q.TryDequeue()
	require.True(t, ok, "events queued before close stay available")
	assert.Equal(t, "pending", e.SubscriptionID)
}

func TestEventQueue_ConcurrentBatchesStayContiguous(t *testing.T) {
	q := newEventQueue()
	const producers = 20
	const batch = 5

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			events := make([]Event, batch)
			for j := range events {
				events[j] = Event{Seq: seq}
			}
			q.Enqueue(events...)
		}(int64(i))
	}
	wg.Wait()

	require.Equal(t, producers*batch, q.Len())
	for i := 0; i < producers; i++ {
		first, ok := q.TryDequeue()
		require.True(t, ok)
		for j := 1; j < batch; j++ {
			e, ok := q.TryDequeue()
			require.True(t, ok)
			assert.Equal(t, first.Seq, e.Seq, "batch from one producer must not interleave")
		}
	}
}
