package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrAlreadyRunning is returned by Run when another goroutine is already
// running the dispatcher loop.
var ErrAlreadyRunning = errors.New("store dispatcher is already running")

// middlewareScope labels middleware and observer panics for the Recorder.
const middlewareScope = "middleware"

type registeredModule struct {
	state     any
	version   uint64
	mutations map[string]Mutation
	actions   map[string]Action

	// views lists every view that includes this module, its default view first.
	views []string
}

type subscription struct {
	handler Handler

	// emitted is closed once the initial emission has returned, so deferred
	// deliveries can never overtake it.
	emitted chan struct{}
}

type view struct {
	reducer   Reducer
	moduleIDs []string
	subs      map[string]*subscription

	// order keeps subscription ids in subscribe order; map order is random.
	order []string
}

// Store is the global state container.
//
// Thread-safety model:
//   - Every operation is safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Deferred deliveries run on the Run goroutine, one at a time
//   - Initial emissions run on the goroutine calling Subscribe, so they may
//     overlap a deferred delivery to another subscriber
//   - Mutations, actions, setup hooks and middlewares run on the caller's goroutine
//
// INVARIANTS:
//   - Every module has a view with the same id whose reducer is Identity
//   - A module's views list and the views' moduleIDs always agree
//   - Per view, notifications are delivered in commit order
type Store struct {
	mu      sync.Mutex
	modules map[string]*registeredModule
	views   map[string]*view

	// Registration order of the two maps above.
	moduleOrder []string
	viewOrder   []string

	hookMu sync.RWMutex
	hooks  []Observer

	queue    *eventQueue
	clock    *Clock
	ids      IDGenerator
	recorder Recorder
	logger   *slog.Logger
	running  atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithIDGenerator sets the subscription id generator.
// Default: NewSubscriptionIDGenerator().
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithClock sets the logical clock that stamps mutations. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithRecorder sets the metrics recorder. Default: a no-op recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// New creates an empty Store.
//
// Notifications are queued from the start but only delivered while Run is
// executing on some goroutine.
func New(opts ...Option) *Store {
	s := &Store{
		modules:  make(map[string]*registeredModule),
		views:    make(map[string]*view),
		queue:    newEventQueue(),
		clock:    NewClock(),
		ids:      NewSubscriptionIDGenerator(),
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register adds a module under id and returns id.
//
// The module gets a default view sharing its id. Its state is deep-copied by
// the InitMutation, which runs through the normal pipeline (middlewares and
// observers see it; nobody is subscribed yet). Setup, if set, runs last. A
// failing setup unregisters the module again when nothing depends on it yet.
func (s *Store) Register(id string, m Module) (string, error) {
	if err := s.addModule(id, m); err != nil {
		return "", err
	}

	if err := s.commit(id, InitMutation, initialize, nil, nil); err != nil {
		s.dropModule(id)
		return "", err
	}

	s.logger.Debug("module registered", "module_id", id)

	if m.Setup == nil {
		return id, nil
	}
	if err := m.Setup(ActionAPI{ID: id, store: s}); err != nil {
		setupErr := fmt.Errorf("setup module %q: %w", id, err)
		if uerr := s.Unregister(id); uerr != nil {
			return "", errors.Join(setupErr, uerr)
		}
		return "", setupErr
	}

	return id, nil
}

func (s *Store) addModule(id string, m Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[id]; ok {
		return newError(ErrCodeDuplicateID, opRegister, id, "another module with the same id already exists")
	}
	if _, ok := s.views[id]; ok {
		return newError(ErrCodeDuplicateID, opRegister, id, "a view with the same id already exists")
	}

	mutations := make(map[string]Mutation, len(m.Mutations))
	for name, fn := range m.Mutations {
		mutations[name] = fn
	}
	actions := make(map[string]Action, len(m.Actions))
	for name, fn := range m.Actions {
		actions[name] = fn
	}

	s.modules[id] = &registeredModule{
		state:     m.State,
		mutations: mutations,
		actions:   actions,
	}
	s.moduleOrder = append(s.moduleOrder, id)

	// Cannot fail: the id is free and the only referenced module exists.
	return s.combineLocked(id, []string{id}, Identity)
}

// dropModule removes a module whose registration could not complete.
func (s *Store) dropModule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok || len(mod.views) > 1 {
		return
	}
	s.removeModuleLocked(id)
}

func (s *Store) removeModuleLocked(id string) {
	delete(s.modules, id)
	delete(s.views, id)
	s.moduleOrder = slices.DeleteFunc(s.moduleOrder, func(m string) bool { return m == id })
	s.viewOrder = slices.DeleteFunc(s.viewOrder, func(v string) bool { return v == id })
}

// Unregister removes a module and its default view.
//
// Fails with ErrHasDependents while any user view still lists the module.
// Subscriptions on the default view are discarded with it; their pending
// notifications are dropped.
func (s *Store) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return newError(ErrCodeNotFound, opUnregister, id, "module does not exist")
	}
	if len(mod.views) > 1 {
		return newError(ErrCodeHasDependents, opUnregister, id,
			"all the related user-defined views must be uncombined first")
	}

	s.removeModuleLocked(id)

	s.logger.Debug("module unregistered", "module_id", id)
	return nil
}

// Combine creates a view over moduleIDs and returns id.
//
// Every module id is validated before anything is written, so a failed
// Combine leaves the registries unchanged. The reducer receives the module
// states positionally, in moduleIDs order.
func (s *Store) Combine(id string, moduleIDs []string, r Reducer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.combineLocked(id, moduleIDs, r); err != nil {
		return "", err
	}

	s.logger.Debug("view combined", "view_id", id, "modules", moduleIDs)
	return id, nil
}

func (s *Store) combineLocked(id string, moduleIDs []string, r Reducer) error {
	if _, ok := s.views[id]; ok {
		return newError(ErrCodeDuplicateID, opCombine, id, "another view with the same id already exists")
	}
	if r == nil {
		return newError(ErrCodeInvalidArgument, opCombine, id, "reducer is required")
	}
	for _, moduleID := range moduleIDs {
		if _, ok := s.modules[moduleID]; !ok {
			return newError(ErrCodeNotFound, opCombine, id, "module %q does not exist", moduleID)
		}
	}

	ids := slices.Clone(moduleIDs)
	for _, moduleID := range ids {
		mod := s.modules[moduleID]
		if !slices.Contains(mod.views, id) {
			mod.views = append(mod.views, id)
		}
	}

	s.views[id] = &view{
		reducer:   r,
		moduleIDs: ids,
		subs:      make(map[string]*subscription),
	}
	s.viewOrder = append(s.viewOrder, id)
	return nil
}

// Uncombine removes a user view.
//
// Default views fail with ErrDefaultView (use Unregister), and views with
// subscribers fail with ErrHasSubscribers.
func (s *Store) Uncombine(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[id]
	if !ok {
		return newError(ErrCodeNotFound, opUncombine, id, "view does not exist")
	}
	if _, ok := s.modules[id]; ok {
		return newError(ErrCodeDefaultView, opUncombine, id,
			"default views cannot be uncombined, use Unregister instead")
	}
	if len(v.subs) > 0 {
		return newError(ErrCodeHasSubscribers, opUncombine, id,
			"all the related subscriptions must be unsubscribed first")
	}

	for _, moduleID := range v.moduleIDs {
		if mod, ok := s.modules[moduleID]; ok {
			mod.views = slices.DeleteFunc(mod.views, func(viewID string) bool { return viewID == id })
		}
	}
	delete(s.views, id)
	s.viewOrder = slices.DeleteFunc(s.viewOrder, func(v string) bool { return v == id })

	s.logger.Debug("view uncombined", "view_id", id)
	return nil
}

// Subscribe attaches h to the view id and returns the subscription id.
//
// h is called once, synchronously, with the view's current state before
// Subscribe returns. Later calls happen on the Run goroutine after each
// mutation of a module the view includes.
func (s *Store) Subscribe(id string, h Handler) (string, error) {
	if h == nil {
		return "", newError(ErrCodeInvalidArgument, opSubscribe, id, "handler is required")
	}

	subID, sub, state, err := s.addSubscription(id, h)
	if err != nil {
		return "", err
	}

	s.invoke(id, subID, h, state)
	close(sub.emitted)

	s.logger.Debug("subscribed", "view_id", id, "subscription_id", subID)
	return subID, nil
}

func (s *Store) addSubscription(id string, h Handler) (string, *subscription, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[id]
	if !ok {
		return "", nil, nil, newError(ErrCodeNotFound, opSubscribe, id, "view does not exist")
	}

	state, err := s.reduceLocked(id, v)
	if err != nil {
		return "", nil, nil, err
	}

	subID := s.ids.Generate()
	sub := &subscription{handler: h, emitted: make(chan struct{})}
	v.subs[subID] = sub
	v.order = append(v.order, subID)

	return subID, sub, state, nil
}

// Unsubscribe detaches a subscription. A notification for it that is still
// queued is dropped when the dispatcher reaches it.
func (s *Store) Unsubscribe(id, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[id]
	if !ok {
		return newError(ErrCodeNotFound, opUnsubscribe, id, "view does not exist")
	}
	if _, ok := v.subs[subscriptionID]; !ok {
		return newError(ErrCodeUnknownSubscription, opUnsubscribe, id,
			"subscription id %q does not exist", subscriptionID)
	}

	delete(v.subs, subscriptionID)
	v.order = slices.DeleteFunc(v.order, func(sid string) bool { return sid == subscriptionID })

	s.logger.Debug("unsubscribed", "view_id", id, "subscription_id", subscriptionID)
	return nil
}

// Mutate applies the named mutation to module id.
//
// On return the new state is committed, every middleware and observer has
// run, and one notification per subscriber of every affected view is queued.
// Handlers themselves run later, on the Run goroutine.
func (s *Store) Mutate(id, name string, data any) error {
	fn, err := s.lookupMutation(id, name)
	if err != nil {
		return err
	}
	return s.commit(id, name, fn, data, nil)
}

func (s *Store) lookupMutation(id, name string) (Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return nil, newError(ErrCodeNotFound, opMutate, id, "module does not exist")
	}
	fn, ok := mod.mutations[name]
	if !ok {
		return nil, newError(ErrCodeUnknownMutation, opMutate, id, "mutation %q does not exist", name)
	}
	return fn, nil
}

// frame counts the commits made through MutationContext.Mutate while one
// mutation runs, per module. Those commits are expected version bumps, not
// conflicting writers.
type frame struct {
	mu      sync.Mutex
	commits map[string]uint64
}

func (f *frame) count(id string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[id]
}

// add records one commit to id plus every commit made below it.
func (f *frame) add(id string, child *frame) {
	child.mu.Lock()
	nested := maps.Clone(child.commits)
	child.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commits == nil {
		f.commits = make(map[string]uint64)
	}
	for moduleID, n := range nested {
		f.commits[moduleID] += n
	}
	f.commits[id]++
}

// commit runs fn against the module's current state and publishes the result.
//
// Commits fn itself makes through its MutationContext land first and are
// then overwritten by fn's result. When another goroutine commits to the
// same module while fn runs, fn is applied again to the newer state.
// parent is the frame of the enclosing mutation, nil at the top level.
func (s *Store) commit(id, name string, fn Mutation, data any, parent *frame) error {
	for {
		prev, version, err := s.readState(id)
		if err != nil {
			return err
		}

		nested := &frame{}
		next, err := fn(MutationContext{ID: id, State: prev, store: s, frame: nested}, data)
		if err != nil {
			return fmt.Errorf("could not perform mutation %q on module %q: %w", name, id, err)
		}
		if sameContainer(prev, next) {
			return newError(ErrCodeImpurity, opMutate, id,
				"mutation %q returned the previous state, new state must be a copy", name)
		}

		ev, gate, committed, err := s.publish(id, name, version+nested.count(id), next)
		if err != nil {
			return err
		}
		if !committed {
			s.logger.Debug("state changed during mutation, retrying", "module_id", id, "mutation", name)
			continue
		}

		s.runHooks(ev)
		close(gate)
		if parent != nil {
			parent.add(id, nested)
		}
		return nil
	}
}

func (s *Store) readState(id string) (any, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return nil, 0, newError(ErrCodeNotFound, opMutate, id, "module does not exist")
	}
	return mod.state, mod.version, nil
}

// publish commits next if the module is still at version, then queues the
// notifications of every affected view behind a closed-later gate.
func (s *Store) publish(id, name string, version uint64, next any) (MutationEvent, chan struct{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return MutationEvent{}, nil, false, newError(ErrCodeNotFound, opMutate, id,
			"module was unregistered during the mutation")
	}
	if mod.version != version {
		return MutationEvent{}, nil, false, nil
	}

	mod.state = next
	mod.version++
	seq := s.clock.Next()
	gate := make(chan struct{})

	var events []Event
	for _, viewID := range mod.views {
		v := s.views[viewID]
		if len(v.order) == 0 {
			continue
		}
		state, err := s.reduceLocked(viewID, v)
		if err != nil {
			s.logger.Error("view reducer failed, notifications skipped",
				"view_id", viewID, "module_id", id, "seq", seq, "error", err)
			continue
		}
		for _, subID := range v.order {
			events = append(events, Event{
				Type:           EventTypeNotify,
				Seq:            seq,
				ViewID:         viewID,
				SubscriptionID: subID,
				State:          state,
				ready:          gate,
			})
		}
	}

	s.recorder.MutationApplied(id, name)
	if s.queue.Enqueue(events...) {
		for _, ev := range events {
			s.recorder.NotificationScheduled(ev.ViewID)
		}
	} else {
		s.logger.Warn("store stopped, notifications dropped", "module_id", id, "seq", seq, "count", len(events))
		for _, ev := range events {
			s.recorder.NotificationDropped(ev.ViewID)
		}
	}
	s.recorder.QueueDepth(s.queue.Len())

	s.logger.Debug("mutation committed",
		"module_id", id,
		"mutation", name,
		"seq", seq,
		"notifications", len(events),
	)

	return MutationEvent{Seq: seq, ModuleID: id, Name: name, State: next}, gate, true, nil
}

// reduceLocked computes a view's state from the current module states.
// A panicking reducer is reported as an error.
func (s *Store) reduceLocked(viewID string, v *view) (state any, err error) {
	states := make([]any, len(v.moduleIDs))
	for i, moduleID := range v.moduleIDs {
		states[i] = s.modules[moduleID].state
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer of view %q panicked: %v", viewID, r)
		}
	}()
	return v.reducer(states...), nil
}

// Dispatch runs the named action of module id on the caller's goroutine and
// returns its error, wrapped. The Store imposes no timeout; ctx is handed to
// the action untouched.
func (s *Store) Dispatch(ctx context.Context, id, name string, data any) error {
	action, err := s.lookupAction(id, name)
	if err != nil {
		return err
	}

	s.logger.Debug("dispatching action", "module_id", id, "action", name)

	if err := action(ctx, ActionAPI{ID: id, store: s}, data); err != nil {
		return fmt.Errorf("action %q on module %q: %w", name, id, err)
	}
	return nil
}

func (s *Store) lookupAction(id, name string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return nil, newError(ErrCodeNotFound, opDispatch, id, "module does not exist")
	}
	action, ok := mod.actions[name]
	if !ok {
		return nil, newError(ErrCodeUnknownAction, opDispatch, id, "action %q does not exist", name)
	}
	return action, nil
}

// Use appends a middleware. Middlewares and observers run in the order they
// were added, once per accepted mutation.
func (s *Store) Use(mw Middleware) {
	s.Observe(func(ev MutationEvent) {
		mw(ev.State)
	})
}

// Observe appends an observer. See Use.
func (s *Store) Observe(o Observer) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, o)
}

func (s *Store) runHooks(ev MutationEvent) {
	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()

	for _, hook := range hooks {
		s.runHook(hook, ev)
	}
}

func (s *Store) runHook(hook Observer, ev MutationEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.recorder.HandlerPanicked(middlewareScope)
			s.logger.Error("middleware panicked",
				"module_id", ev.ModuleID,
				"mutation", ev.Name,
				"seq", ev.Seq,
				"panic", r,
			)
		}
	}()
	hook(ev)
}

// Snapshot returns the current reduced state of view id, as a new
// subscriber would receive it.
func (s *Store) Snapshot(id string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[id]
	if !ok {
		return nil, newError(ErrCodeNotFound, opSnapshot, id, "view does not exist")
	}
	return s.reduceLocked(id, v)
}

// ModuleIDs returns the registered module ids in registration order.
func (s *Store) ModuleIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.moduleOrder)
}

// ViewIDs returns every view id, default views included, in the order the
// views were created.
func (s *Store) ViewIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.viewOrder)
}

// SubscriptionCount returns the number of subscriptions on view id.
func (s *Store) SubscriptionCount(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[id]
	if !ok {
		return 0, newError(ErrCodeNotFound, opCount, id, "view does not exist")
	}
	return len(v.subs), nil
}

// Clock returns the Store's logical clock.
func (s *Store) Clock() *Clock {
	return s.clock
}

func (s *Store) lookupSubscription(viewID, subID string) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.views[viewID]
	if !ok {
		return nil, false
	}
	sub, ok := v.subs[subID]
	return sub, ok
}

// invoke calls a handler, recovering and logging a panic so the remaining
// subscribers still get their notifications.
func (s *Store) invoke(viewID, subID string, h Handler, state any) {
	defer func() {
		if r := recover(); r != nil {
			s.recorder.HandlerPanicked(viewID)
			s.logger.Error("subscription handler panicked",
				"view_id", viewID,
				"subscription_id", subID,
				"panic", r,
			)
		}
	}()
	h(state)
}
