package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statecore/internal/core"
)

func TestRun_CounterScenario(t *testing.T) {
	s, err := LoadScenario("testdata/counter_increments.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"n": 2}, result.State["counter"])
	assert.Equal(t, 3, result.MutationCount("counter"))
	assert.Equal(t, []any{
		map[string]any{"n": 0},
		map[string]any{"n": 1},
		map[string]any{"n": 2},
	}, result.Deliveries("h1"))
}

func TestRun_TraceOrderWithinStep(t *testing.T) {
	s, err := LoadScenario("testdata/actions_and_purity.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var step1 []string
	for _, ev := range result.Trace {
		if ev.Step == 1 {
			step1 = append(step1, ev.Type)
		}
	}
	assert.Equal(t, []string{EventMutation, EventMutation, EventDeliver, EventDeliver}, step1)
}

func TestRun_SetupEventsUseSetupStep(t *testing.T) {
	s, err := LoadScenario("testdata/composed_views.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.GreaterOrEqual(t, len(result.Trace), 2)
	for _, ev := range result.Trace[:2] {
		assert.Equal(t, setupStep, ev.Step)
		assert.Equal(t, core.InitMutation, ev.Name)
	}

	_, hasSummary := result.State["summary"]
	assert.False(t, hasSummary, "summary was uncombined")
	_, hasCounter := result.State["counter"]
	assert.False(t, hasCounter, "counter was unregistered")
}

func TestRun_UnexpectedErrorFailsResult(t *testing.T) {
	s := validScenario()
	s.Steps = append(s.Steps, Step{Op: OpMutate, Module: "ghost", Name: "INC"})

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "steps[2] (mutate): unexpected error")
}

func TestRun_MissingExpectedErrorFailsResult(t *testing.T) {
	s := validScenario()
	s.Steps[1].Error = "impurity"

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error impurity, got none")
}

func TestRun_WrongErrorCodeFailsResult(t *testing.T) {
	s := validScenario()
	s.Steps[1] = Step{Op: OpMutate, Module: "counter", Name: "NOPE", Error: "not_found"}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error not_found, got unknown_mutation")
}

func TestRun_FailedAssertion(t *testing.T) {
	s := validScenario()
	s.Assertions = []Assertion{
		{Type: AssertFinalState, View: "counter", Expect: map[string]any{"n": 7}},
	}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: final_state")
	assert.Contains(t, result.Errors[0], `view counter = {"n":1}`)
}

func TestRun_InvalidScenario(t *testing.T) {
	s := validScenario()
	s.Name = ""

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestRun_StateOfWrongShapeFailsMutations(t *testing.T) {
	s := validScenario()
	s.Modules = append(s.Modules, ModuleDef{ID: "c2", Kind: "counter", State: "not an object"})
	s.Steps = append(s.Steps, Step{Op: OpMutate, Module: "c2", Name: "INC", Error: ErrCodeFailed})

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "not an object", result.State["c2"])
}

type countingRecorder struct {
	applied int
}

func (r *countingRecorder) MutationApplied(string, string) { r.applied++ }
func (r *countingRecorder) NotificationScheduled(string)   {}
func (r *countingRecorder) NotificationDelivered(string)   {}
func (r *countingRecorder) NotificationDropped(string)     {}
func (r *countingRecorder) HandlerPanicked(string)         {}
func (r *countingRecorder) QueueDepth(int)                 {}

func TestRun_Options(t *testing.T) {
	var observed []core.MutationEvent
	rec := &countingRecorder{}

	result, err := Run(validScenario(),
		WithObserver(func(ev core.MutationEvent) { observed = append(observed, ev) }),
		WithRecorder(rec),
	)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, observed, 2)
	assert.Equal(t, "INC", observed[1].Name)
	assert.Equal(t, 2, rec.applied)
}
