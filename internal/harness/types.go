package harness

import "fmt"

// Trace event types.
const (
	EventMutation = "mutation"
	EventEmit     = "emit"
	EventDeliver  = "deliver"
)

// TraceEvent is one entry of a scenario trace.
//
// Mutation events carry the module, mutation name and logical seq. Emit and
// deliver events carry the view and the subscription alias. Every event
// carries the resulting state and the index of the step that caused it
// (-1 for scenario setup).
type TraceEvent struct {
	Type         string `json:"type"` // "mutation", "emit" or "deliver"
	Step         int    `json:"step"`
	Seq          int64  `json:"seq,omitempty"`
	Module       string `json:"module,omitempty"`
	Name         string `json:"name,omitempty"`
	View         string `json:"view,omitempty"`
	Subscription string `json:"subscription,omitempty"`
	State        any    `json:"state"`
}

// String formats the event on one line, state as canonical JSON.
func (ev TraceEvent) String() string {
	if ev.Type == EventMutation {
		return fmt.Sprintf("step %d: mutation #%d %s.%s -> %s", ev.Step, ev.Seq, ev.Module, ev.Name, render(ev.State))
	}
	return fmt.Sprintf("step %d: %s %s/%s -> %s", ev.Step, ev.Type, ev.View, ev.Subscription, render(ev.State))
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every mutation, emission and delivery in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State maps every view id still combined after the last step to its
	// snapshot.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Deliveries returns the states seen by a subscription alias, initial
// emission first.
func (r *Result) Deliveries(alias string) []any {
	states := []any{}
	for _, ev := range r.Trace {
		if (ev.Type == EventEmit || ev.Type == EventDeliver) && ev.Subscription == alias {
			states = append(states, ev.State)
		}
	}
	return states
}

// MutationCount returns the number of committed mutations on a module,
// registration included.
func (r *Result) MutationCount(moduleID string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == EventMutation && ev.Module == moduleID {
			n++
		}
	}
	return n
}
