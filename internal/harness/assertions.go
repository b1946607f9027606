package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/statecore/internal/canonical"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event.String())
		}
	}

	return buf.String()
}

// evaluateAssertions runs every assertion against the result and returns
// the failures in assertion order.
func evaluateAssertions(result *Result, assertions []Assertion) []error {
	var errs []error
	for _, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertDeliveries:
		return assertDeliveries(result, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertMutationCount:
		return assertMutationCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertDeliveries checks the exact ordered states a subscription saw,
// initial emission included.
func assertDeliveries(result *Result, a Assertion) error {
	got := result.Deliveries(a.Subscription)
	want := a.States
	if want == nil {
		want = []any{}
	}

	equal, err := canonical.Equal(got, want)
	if err != nil {
		return fmt.Errorf("deliveries for %s: %w", a.Subscription, err)
	}
	if equal {
		return nil
	}

	return &AssertionError{
		Type:     AssertDeliveries,
		Expected: fmt.Sprintf("subscription %s receives %s", a.Subscription, render(want)),
		Actual:   fmt.Sprintf("received %s", render(got)),
		Trace:    result.Trace,
	}
}

// assertFinalState checks a view's snapshot after the last step.
func assertFinalState(result *Result, a Assertion) error {
	state, ok := result.State[a.View]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("view %s = %s", a.View, render(a.Expect)),
			Actual:   fmt.Sprintf("view %s does not exist", a.View),
		}
	}

	equal, err := canonical.Equal(state, a.Expect)
	if err != nil {
		return fmt.Errorf("final state of %s: %w", a.View, err)
	}
	if equal {
		return nil
	}

	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("view %s = %s", a.View, render(a.Expect)),
		Actual:   fmt.Sprintf("view %s = %s", a.View, render(state)),
	}
}

// assertMutationCount checks how many mutations a module committed.
func assertMutationCount(result *Result, a Assertion) error {
	got := result.MutationCount(a.Module)
	if got == a.Count {
		return nil
	}

	return &AssertionError{
		Type:     AssertMutationCount,
		Expected: fmt.Sprintf("module %s commits %d mutations", a.Module, a.Count),
		Actual:   fmt.Sprintf("%d mutations", got),
		Trace:    result.Trace,
	}
}

// render formats a state as canonical JSON, falling back to %v.
func render(v any) string {
	b, err := canonical.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
