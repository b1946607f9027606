package core

import "context"

// Module is an independently owned state slice.
//
// State may be any value: a map, a slice, a pointer to a struct, or a
// primitive. The Store deep-copies it at registration, and from then on it
// changes only as the return value of one of Mutations.
type Module struct {
	State     any
	Mutations map[string]Mutation

	// Actions are optional. They may block, spawn goroutines and call back
	// into the Store through the ActionAPI.
	Actions map[string]Action

	// Setup is optional. It runs once, after the module and its default view
	// exist, typically to wire external event sources that later call Mutate.
	Setup func(api ActionAPI) error
}

// Mutation computes a module's next state from its current one.
//
// Mutations must be pure: the Store may call one more than once for a single
// Mutate when another goroutine commits a change to the same module first.
// A mutation may call m.Mutate; those nested commits land before its own
// result, which then replaces the module state.
// Returning the same map, slice or pointer as m.State fails with ErrImpurity.
// Returning an error leaves the state untouched.
type Mutation func(m MutationContext, data any) (any, error)

// MutationContext is the read-only view a Mutation receives.
type MutationContext struct {
	ID    string
	State any

	store *Store
	frame *frame
}

// Mutate performs another mutation on the same Store. It commits before the
// calling mutation does.
func (m MutationContext) Mutate(id, name string, data any) error {
	fn, err := m.store.lookupMutation(id, name)
	if err != nil {
		return err
	}
	return m.store.commit(id, name, fn, data, m.frame)
}

// Action is a possibly long-running operation registered on a module.
type Action func(ctx context.Context, api ActionAPI, data any) error

// ActionAPI exposes the Store operations available to actions and setup hooks.
type ActionAPI struct {
	// ID is the id of the module the action or setup hook belongs to.
	ID string

	store *Store
}

// Mutate performs a mutation. See Store.Mutate.
func (a ActionAPI) Mutate(id, name string, data any) error {
	return a.store.Mutate(id, name, data)
}

// Dispatch runs another action. See Store.Dispatch.
func (a ActionAPI) Dispatch(ctx context.Context, id, name string, data any) error {
	return a.store.Dispatch(ctx, id, name, data)
}

// Register registers a module. See Store.Register.
func (a ActionAPI) Register(id string, m Module) (string, error) {
	return a.store.Register(id, m)
}

// Unregister removes a module. See Store.Unregister.
func (a ActionAPI) Unregister(id string) error {
	return a.store.Unregister(id)
}

// Combine creates a view. See Store.Combine.
func (a ActionAPI) Combine(id string, moduleIDs []string, r Reducer) (string, error) {
	return a.store.Combine(id, moduleIDs, r)
}

// Uncombine removes a view. See Store.Uncombine.
func (a ActionAPI) Uncombine(id string) error {
	return a.store.Uncombine(id)
}

// Snapshot reads a view's current state. See Store.Snapshot.
func (a ActionAPI) Snapshot(id string) (any, error) {
	return a.store.Snapshot(id)
}

// Reducer projects module states, passed positionally in the view's module
// order, into a view state. Reducers run under the registry lock: they must
// be pure and must not call the Store.
type Reducer func(states ...any) any

// Handler receives a view's reduced state.
type Handler func(state any)

// Middleware receives every accepted state, synchronously, before the
// mutation's notifications become deliverable.
type Middleware func(state any)

// MutationEvent describes one accepted mutation.
type MutationEvent struct {
	Seq      int64
	ModuleID string
	Name     string
	State    any
}

// Observer is a Middleware that also learns which module and mutation
// produced the state. Observers and middlewares share one ordered list.
type Observer func(ev MutationEvent)

// Recorder receives pipeline measurements. See internal/metrics.
//
// scope in HandlerPanicked is the view id, or "middleware" for a
// middleware or observer.
type Recorder interface {
	MutationApplied(moduleID, name string)
	NotificationScheduled(viewID string)
	NotificationDelivered(viewID string)
	NotificationDropped(viewID string)
	HandlerPanicked(scope string)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) MutationApplied(string, string) {}
func (nopRecorder) NotificationScheduled(string) {}
func (nopRecorder) NotificationDelivered(string) {}
func (nopRecorder) NotificationDropped(string) {}
func (nopRecorder) HandlerPanicked(string) {}
func (nopRecorder) QueueDepth(int) {}

// Identity is the reducer of every default view.
func Identity(states ...any) any {
	if len(states) == 0 {
		return nil
	}
	return states[0]
}
