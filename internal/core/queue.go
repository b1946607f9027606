package core

import (
	"sync"
)

// EventType distinguishes between queued event kinds.
type EventType int

const (
	// EventTypeNotify delivers a reduced view state to one subscription.
	EventTypeNotify EventType = iota + 1
	// EventTypeBarrier marks a point in the queue; used by Flush.
	EventTypeBarrier
)

// Event is one entry in the delivery queue.
type Event struct {
	Type EventType

	// Seq is the clock value of the mutation that produced the notification.
	Seq int64

	ViewID         string
	SubscriptionID string
	State          any

	// ready is closed once the producing mutation's middlewares have run.
	// Nil means the event is deliverable immediately.
	ready <-chan struct{}

	// done is closed by the dispatcher when it reaches a barrier.
	done chan struct{}
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so that handlers which mutate again can enqueue
// arbitrarily many follow-on notifications without blocking the dispatcher
// that is running them.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds events to the back of the queue as one contiguous run.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(events ...Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(events) == 0 {
		return true
	}

	q.events = append(q.events, events...)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the delivered state can be collected.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
// Events still queued remain available to TryDequeue.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
