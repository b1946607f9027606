package core

import (
	"context"
)

// Run delivers queued notifications until ctx is cancelled or Stop is called.
//
// CRITICAL: exactly one goroutine may run the dispatcher; a second concurrent
// call returns ErrAlreadyRunning. After Stop, events already queued are
// still delivered before Run returns nil.
func (s *Store) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("store dispatcher starting")

	for {
		event, ok := s.queue.TryDequeue()
		if ok {
			if err := s.process(ctx, event); err != nil {
				s.logger.Info("store dispatcher stopping: context cancelled")
				s.queue.Close()
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("store dispatcher stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel is closed by Stop, so this fires
			// immediately once the queue is closed.
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.logger.Info("store dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the delivery queue. Mutations keep committing afterwards, but
// their notifications are dropped.
func (s *Store) Stop() {
	s.queue.Close()
}

// process handles one event. It only returns an error when ctx is cancelled
// while waiting on the event.
// CRITICAL: called only from the Run goroutine.
func (s *Store) process(ctx context.Context, event Event) error {
	s.recorder.QueueDepth(s.queue.Len())

	switch event.Type {
	case EventTypeBarrier:
		close(event.done)
		return nil

	case EventTypeNotify:
		return s.deliver(ctx, event)

	default:
		s.logger.Error("unknown event type", "type", int(event.Type))
		return nil
	}
}

// deliver hands one notification to its subscription, or drops it when the
// subscription (or its view) has gone away since the mutation.
func (s *Store) deliver(ctx context.Context, event Event) error {
	if event.ready != nil {
		select {
		case <-event.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sub, ok := s.lookupSubscription(event.ViewID, event.SubscriptionID)
	if !ok {
		s.drop(event)
		return nil
	}

	// The initial emission always precedes deferred ones.
	select {
	case <-sub.emitted:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Unsubscribe may have run during the initial emission.
	if _, ok := s.lookupSubscription(event.ViewID, event.SubscriptionID); !ok {
		s.drop(event)
		return nil
	}

	s.invoke(event.ViewID, event.SubscriptionID, sub.handler, event.State)
	s.recorder.NotificationDelivered(event.ViewID)
	return nil
}

func (s *Store) drop(event Event) {
	s.recorder.NotificationDropped(event.ViewID)
	s.logger.Debug("notification dropped, subscription no longer exists",
		"view_id", event.ViewID,
		"subscription_id", event.SubscriptionID,
		"seq", event.Seq,
	)
}

// Flush blocks until every notification queued before the call has been
// delivered or dropped.
//
// Handlers and middlewares must not call Flush: the dispatcher would wait on
// itself.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !s.queue.Enqueue(Event{Type: EventTypeBarrier, done: done}) {
		return &Error{Code: ErrCodeStopped, Message: "store dispatcher is stopped"}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle flushes repeatedly until a flush completes without any new mutation
// having been committed, so notifications caused by handlers that mutate are
// delivered too. A handler that always mutates keeps Settle busy until ctx
// expires.
func (s *Store) Settle(ctx context.Context) error {
	for {
		before := s.clock.Current()
		if err := s.Flush(ctx); err != nil {
			return err
		}
		if s.clock.Current() == before {
			return nil
		}
	}
}
