package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/statecore/internal/core"
)

// Scenario defines a Store scenario: the modules and views to set up, the
// steps to execute, and the assertions to evaluate afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Modules are registered in order before the first step.
	Modules []ModuleDef `yaml:"modules" json:"modules"`

	// Views are combined in order after Modules.
	Views []ViewDef `yaml:"views,omitempty" json:"views,omitempty"`

	// Steps run in order; the Store is settled after each one.
	Steps []Step `yaml:"steps" json:"steps"`

	// Assertions validate the trace and the final state.
	// Supported types: deliveries, final_state, mutation_count
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// ModuleDef declares a module built from the catalog.
type ModuleDef struct {
	ID    string `yaml:"id" json:"id"`
	Kind  string `yaml:"kind" json:"kind"`
	State any    `yaml:"state,omitempty" json:"state,omitempty"`
}

// ViewDef declares a user view over existing modules.
type ViewDef struct {
	ID      string   `yaml:"id" json:"id"`
	Modules []string `yaml:"modules" json:"modules"`
	Reducer string   `yaml:"reducer" json:"reducer"`
}

// Step is one Store operation. Which fields apply depends on Op:
//
//	register    module, kind, state
//	unregister  module
//	combine     view, modules, reducer
//	uncombine   view
//	subscribe   view, as
//	unsubscribe view, as
//	mutate      module, name, data
//	dispatch    module, name, data
//	settle      (none)
//
// Error, when set, is the error code the operation must fail with.
type Step struct {
	Op      string   `yaml:"op" json:"op"`
	Module  string   `yaml:"module,omitempty" json:"module,omitempty"`
	Kind    string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	State   any      `yaml:"state,omitempty" json:"state,omitempty"`
	View    string   `yaml:"view,omitempty" json:"view,omitempty"`
	Modules []string `yaml:"modules,omitempty" json:"modules,omitempty"`
	Reducer string   `yaml:"reducer,omitempty" json:"reducer,omitempty"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Data    any      `yaml:"data,omitempty" json:"data,omitempty"`
	As      string   `yaml:"as,omitempty" json:"as,omitempty"`
	Error   string   `yaml:"error,omitempty" json:"error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "deliveries": exact ordered states seen by a subscription alias
	// - "final_state": snapshot of a view after the last step
	// - "mutation_count": number of committed mutations on a module
	Type string `yaml:"type" json:"type"`

	// Subscription is the alias given by a subscribe step (deliveries).
	Subscription string `yaml:"subscription,omitempty" json:"subscription,omitempty"`

	// States are the expected states in delivery order (deliveries).
	States []any `yaml:"states,omitempty" json:"states,omitempty"`

	// View is the view id to snapshot (final_state).
	View string `yaml:"view,omitempty" json:"view,omitempty"`

	// Expect is the expected snapshot (final_state).
	Expect any `yaml:"expect,omitempty" json:"expect,omitempty"`

	// Module and Count are used by mutation_count. The registration
	// mutation counts.
	Module string `yaml:"module,omitempty" json:"module,omitempty"`
	Count  int    `yaml:"count,omitempty" json:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDeliveries    = "deliveries"
	AssertFinalState    = "final_state"
	AssertMutationCount = "mutation_count"
)

// Step op constants.
const (
	OpRegister    = "register"
	OpUnregister  = "unregister"
	OpCombine     = "combine"
	OpUncombine   = "uncombine"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpMutate      = "mutate"
	OpDispatch    = "dispatch"
	OpSettle      = "settle"
)

// ErrInvalidScenario wraps every static validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// ErrCodeFailed is the expected-error code for errors that carry no Store
// error code, such as a mutation rejecting its payload.
const ErrCodeFailed = "failed"

// errorCodes lists every code a step may expect.
var errorCodes = map[string]bool{
	ErrCodeFailed: true,
}

func init() {
	for _, code := range []core.ErrorCode{
		core.ErrCodeDuplicateID,
		core.ErrCodeNotFound,
		core.ErrCodeHasDependents,
		core.ErrCodeDefaultView,
		core.ErrCodeHasSubscribers,
		core.ErrCodeUnknownSubscription,
		core.ErrCodeUnknownMutation,
		core.ErrCodeUnknownAction,
		core.ErrCodeImpurity,
		core.ErrCodeStopped,
		core.ErrCodeInvalidArgument,
	} {
		errorCodes[errorCode(code)] = true
	}
}

// errorCode maps a Store error code to its scenario spelling.
func errorCode(code core.ErrorCode) string {
	return strings.ToLower(string(code))
}

// codeOf returns the scenario spelling of err's code.
func codeOf(err error) string {
	if code := core.CodeOf(err); code != "" {
		return errorCode(code)
	}
	return ErrCodeFailed
}

// LoadScenario reads and parses a scenario file. Files ending in .cue are
// evaluated with CUE; everything else is parsed as YAML.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails static validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario *Scenario
	if filepath.Ext(path) == ".cue" {
		scenario, err = ParseCUE(data, path)
	} else {
		scenario, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	return scenario, nil
}

// ParseYAML decodes a YAML scenario, rejecting unknown fields.
// It does not validate the result.
func ParseYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	normalizeScenario(&scenario)
	return &scenario, nil
}

// ParseCUE evaluates a CUE scenario and decodes its concrete value,
// rejecting unknown fields. filename is only used in error messages.
// It does not validate the result.
func ParseCUE(data []byte, filename string) (*Scenario, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE scenario is not concrete: %w", err)
	}

	raw, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", err)
	}

	var scenario Scenario
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}
	normalizeScenario(&scenario)
	return &scenario, nil
}

// Validate statically checks a scenario: required fields, known kinds,
// reducers, ops and error codes, and subscription aliases.
func Validate(s *Scenario) error {
	return validateScenario(s)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, m := range s.Modules {
		if m.ID == "" {
			return fmt.Errorf("modules[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("modules[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if _, ok := kinds[m.Kind]; !ok {
			return fmt.Errorf("modules[%d]: unknown kind %q", i, m.Kind)
		}
	}

	for i, v := range s.Views {
		if v.ID == "" {
			return fmt.Errorf("views[%d]: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("views[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		if len(v.Modules) == 0 {
			return fmt.Errorf("views[%d]: modules list is required", i)
		}
		for _, id := range v.Modules {
			if !seen[id] {
				return fmt.Errorf("views[%d]: unknown module %q", i, id)
			}
		}
		if _, ok := reducers[v.Reducer]; !ok {
			return fmt.Errorf("views[%d]: unknown reducer %q", i, v.Reducer)
		}
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, aliases); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, assertion, aliases); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op. Subscription
// aliases introduced by subscribe steps are added to aliases.
func validateStep(index int, step Step, aliases map[string]bool) error {
	if step.Error != "" && !errorCodes[step.Error] {
		return fmt.Errorf("steps[%d]: unknown error code %q", index, step.Error)
	}

	switch step.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpRegister:
		if step.Module == "" {
			return fmt.Errorf("steps[%d]: module is required for register", index)
		}
		if _, ok := kinds[step.Kind]; !ok {
			return fmt.Errorf("steps[%d]: unknown kind %q", index, step.Kind)
		}
	case OpUnregister:
		if step.Module == "" {
			return fmt.Errorf("steps[%d]: module is required for unregister", index)
		}
	case OpCombine:
		if step.View == "" {
			return fmt.Errorf("steps[%d]: view is required for combine", index)
		}
		if _, ok := reducers[step.Reducer]; !ok {
			return fmt.Errorf("steps[%d]: unknown reducer %q", index, step.Reducer)
		}
	case OpUncombine:
		if step.View == "" {
			return fmt.Errorf("steps[%d]: view is required for uncombine", index)
		}
	case OpSubscribe:
		if step.View == "" || step.As == "" {
			return fmt.Errorf("steps[%d]: view and as are required for subscribe", index)
		}
		if aliases[step.As] {
			return fmt.Errorf("steps[%d]: subscription alias %q already used", index, step.As)
		}
		aliases[step.As] = true
	case OpUnsubscribe:
		if step.View == "" || step.As == "" {
			return fmt.Errorf("steps[%d]: view and as are required for unsubscribe", index)
		}
		if !aliases[step.As] {
			return fmt.Errorf("steps[%d]: unknown subscription alias %q", index, step.As)
		}
	case OpMutate, OpDispatch:
		if step.Module == "" || step.Name == "" {
			return fmt.Errorf("steps[%d]: module and name are required for %s", index, step.Op)
		}
	case OpSettle:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, aliases map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDeliveries:
		if a.Subscription == "" {
			return fmt.Errorf("assertions[%d]: subscription is required for deliveries", index)
		}
		if !aliases[a.Subscription] {
			return fmt.Errorf("assertions[%d]: unknown subscription alias %q", index, a.Subscription)
		}
	case AssertFinalState:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for final_state", index)
		}
	case AssertMutationCount:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for mutation_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be >= 0", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// normalizeScenario rewrites every free-form value so YAML and CUE sources
// produce the same Go values.
func normalizeScenario(s *Scenario) {
	for i := range s.Modules {
		s.Modules[i].State = normalize(s.Modules[i].State)
	}
	for i := range s.Steps {
		s.Steps[i].State = normalize(s.Steps[i].State)
		s.Steps[i].Data = normalize(s.Steps[i].Data)
	}
	for i := range s.Assertions {
		s.Assertions[i].Expect = normalize(s.Assertions[i].Expect)
		for j := range s.Assertions[i].States {
			s.Assertions[i].States[j] = normalize(s.Assertions[i].States[j])
		}
	}
}

// normalize turns whole numbers into int and every other number into
// float64, recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = normalize(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = normalize(elem)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return normalize(f)
		}
		return val.String()
	case int64:
		return int(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int(val)
		}
		return float64(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int(val)
		}
		return val
	default:
		return v
	}
}

// toInt converts a normalized number to int.
func toInt(v any) (int, error) {
	switch val := normalize(v).(type) {
	case int:
		return val, nil
	case nil:
		return 0, errors.New("expected a number, got nothing")
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
