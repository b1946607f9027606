package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/statecore/internal/core"
)

// DefaultSettleTimeout bounds how long a step may take to settle.
const DefaultSettleTimeout = 5 * time.Second

// setupStep is the step index recorded for scenario setup.
const setupStep = -1

type options struct {
	logger        *slog.Logger
	recorder      core.Recorder
	observers     []core.Observer
	settleTimeout time.Duration
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the Store logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRecorder attaches a Recorder, typically a metrics collector.
func WithRecorder(r core.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithObserver adds a Store observer, typically a journal.
func WithObserver(obs core.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithSettleTimeout bounds every step's settle and dispatch.
func WithSettleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settleTimeout = d
		}
	}
}

// Harness is the scenario execution engine.
// It runs one scenario against a fresh Store with deterministic
// subscription ids.
type Harness struct {
	store         *core.Store
	logger        *slog.Logger
	settleTimeout time.Duration

	// aliases maps subscription aliases to Store subscription ids.
	// Only touched by the goroutine executing steps.
	aliases map[string]string

	mu            sync.Mutex
	step          int
	mutations     []TraceEvent
	notifications []TraceEvent
	trace         []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh Store whose dispatcher runs for the
// duration of the call. Execution flow:
//  1. Register Modules and combine Views, then settle
//  2. Execute each step, compare its error with the expected code, settle
//  3. Snapshot every remaining view
//  4. Evaluate assertions
//
// Within a step the trace lists mutations by seq, then emissions and
// deliveries in the order handlers ran.
//
// A failed step or assertion marks the result as failed. An error is
// returned only when the scenario cannot be executed at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	o := options{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []core.Option{
		core.WithLogger(o.logger),
		core.WithIDGenerator(core.NewSequenceGenerator("sub")),
	}
	if o.recorder != nil {
		storeOpts = append(storeOpts, core.WithRecorder(o.recorder))
	}

	h := &Harness{
		store:         core.New(storeOpts...),
		logger:        o.logger,
		settleTimeout: o.settleTimeout,
		aliases:       make(map[string]string),
		step:          setupStep,
	}
	h.store.Observe(h.observe)
	for _, obs := range o.observers {
		h.store.Observe(obs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- h.store.Run(ctx)
	}()
	defer func() {
		h.store.Stop()
		<-runErr
	}()

	if err := h.setup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.beginStep(i)
		err := h.execute(ctx, step)
		checkStepError(result, i, step, err)

		h.logger.Debug("step executed",
			"step", i,
			"op", step.Op,
			"error", err,
		)

		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): settle: %w", i, step.Op, err)
		}
		h.endStep()
	}

	result.Trace = append(result.Trace, h.trace...)
	for _, id := range h.store.ViewIDs() {
		state, err := h.store.Snapshot(id)
		if err != nil {
			return nil, fmt.Errorf("snapshot %q: %w", id, err)
		}
		result.State[id] = state
	}

	for _, err := range evaluateAssertions(result, scenario.Assertions) {
		result.AddError(err.Error())
	}

	return result, nil
}

// setup registers the declared modules and views.
func (h *Harness) setup(ctx context.Context, scenario *Scenario) error {
	h.beginStep(setupStep)

	for _, def := range scenario.Modules {
		m, err := newModule(def.Kind, def.State)
		if err != nil {
			return fmt.Errorf("module %q: %w", def.ID, err)
		}
		if _, err := h.store.Register(def.ID, m); err != nil {
			return err
		}
	}

	for _, def := range scenario.Views {
		r, err := newReducer(def.Reducer, def.Modules)
		if err != nil {
			return fmt.Errorf("view %q: %w", def.ID, err)
		}
		if _, err := h.store.Combine(def.ID, def.Modules, r); err != nil {
			return err
		}
	}

	if err := h.settle(ctx); err != nil {
		return err
	}
	h.endStep()
	return nil
}

// execute performs one step against the Store.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Op {
	case OpRegister:
		m, err := newModule(step.Kind, step.State)
		if err != nil {
			return err
		}
		_, err = h.store.Register(step.Module, m)
		return err

	case OpUnregister:
		return h.store.Unregister(step.Module)

	case OpCombine:
		r, err := newReducer(step.Reducer, step.Modules)
		if err != nil {
			return err
		}
		_, err = h.store.Combine(step.View, step.Modules, r)
		return err

	case OpUncombine:
		return h.store.Uncombine(step.View)

	case OpSubscribe:
		id, err := h.store.Subscribe(step.View, h.handler(step.View, step.As))
		if err != nil {
			return err
		}
		h.aliases[step.As] = id
		return nil

	case OpUnsubscribe:
		id, ok := h.aliases[step.As]
		if !ok {
			// The alias never subscribed successfully; let the Store
			// report the unknown subscription.
			id = step.As
		}
		return h.store.Unsubscribe(step.View, id)

	case OpMutate:
		return h.store.Mutate(step.Module, step.Name, step.Data)

	case OpDispatch:
		dctx, cancel := context.WithTimeout(ctx, h.settleTimeout)
		defer cancel()
		return h.store.Dispatch(dctx, step.Module, step.Name, step.Data)

	case OpSettle:
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// checkStepError compares a step's outcome with its expected error code.
func checkStepError(result *Result, index int, step Step, err error) {
	switch {
	case step.Error == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] (%s): unexpected error: %v", index, step.Op, err))
	case step.Error != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected error %s, got none", index, step.Op, step.Error))
	case step.Error != "" && codeOf(err) != step.Error:
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected error %s, got %s: %v",
			index, step.Op, step.Error, codeOf(err), err))
	}
}

func (h *Harness) settle(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, h.settleTimeout)
	defer cancel()
	return h.store.Settle(sctx)
}

// handler records the states a subscription receives. The Store always
// runs the initial emission before any deferred delivery.
func (h *Harness) handler(viewID, alias string) core.Handler {
	emitted := false
	return func(state any) {
		h.mu.Lock()
		defer h.mu.Unlock()

		eventType := EventDeliver
		if !emitted {
			eventType = EventEmit
			emitted = true
		}
		h.notifications = append(h.notifications, TraceEvent{
			Type:         eventType,
			Step:         h.step,
			View:         viewID,
			Subscription: alias,
			State:        state,
		})
	}
}

// observe records committed mutations.
func (h *Harness) observe(ev core.MutationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.mutations = append(h.mutations, TraceEvent{
		Type:   EventMutation,
		Step:   h.step,
		Seq:    ev.Seq,
		Module: ev.ModuleID,
		Name:   ev.Name,
		State:  ev.State,
	})
}

func (h *Harness) beginStep(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.step = index
}

// endStep moves the step's events to the trace. Observers of concurrent
// mutations may run out of seq order, so mutations are sorted.
func (h *Harness) endStep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	slices.SortFunc(h.mutations, func(a, b TraceEvent) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	h.trace = append(h.trace, h.mutations...)
	h.trace = append(h.trace, h.notifications...)
	h.mutations = nil
	h.notifications = nil
}
