package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/statecore/internal/core"
)

// kind is a module template scenarios refer to by name.
type kind struct {
	initial   func() any
	mutations map[string]core.Mutation
	actions   map[string]core.Action
}

var kinds = map[string]kind{
	"counter": {
		initial: func() any { return map[string]any{"n": 0} },
		mutations: map[string]core.Mutation{
			"INC": func(m core.MutationContext, _ any) (any, error) {
				return addToCounter(m.State, 1)
			},
			"DEC": func(m core.MutationContext, _ any) (any, error) {
				return addToCounter(m.State, -1)
			},
			"ADD": func(m core.MutationContext, data any) (any, error) {
				delta, err := toInt(data)
				if err != nil {
					return nil, fmt.Errorf("ADD: %w", err)
				}
				return addToCounter(m.State, delta)
			},
			"RESET": func(m core.MutationContext, _ any) (any, error) {
				state, _, err := counterValue(m.State)
				if err != nil {
					return nil, err
				}
				return withCount(state, 0), nil
			},
		},
		actions: map[string]core.Action{
			"INC_TWICE": func(_ context.Context, api core.ActionAPI, _ any) error {
				if err := api.Mutate(api.ID, "INC", nil); err != nil {
					return err
				}
				return api.Mutate(api.ID, "INC", nil)
			},
			"ADD_ASYNC": func(ctx context.Context, api core.ActionAPI, data any) error {
				errc := make(chan error, 1)
				go func() {
					errc <- api.Mutate(api.ID, "ADD", data)
				}()
				select {
				case err := <-errc:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	},
	"list": {
		initial: func() any { return []any{} },
		mutations: map[string]core.Mutation{
			"PUSH": func(m core.MutationContext, data any) (any, error) {
				list, err := listValue(m.State)
				if err != nil {
					return nil, err
				}
				elem, err := cloneValue(data)
				if err != nil {
					return nil, err
				}
				next := make([]any, len(list), len(list)+1)
				copy(next, list)
				return append(next, elem), nil
			},
			"POP": func(m core.MutationContext, _ any) (any, error) {
				list, err := listValue(m.State)
				if err != nil {
					return nil, err
				}
				if len(list) == 0 {
					return nil, errors.New("POP: list is empty")
				}
				next := make([]any, len(list)-1)
				copy(next, list)
				return next, nil
			},
			"CLEAR": func(core.MutationContext, any) (any, error) {
				return []any{}, nil
			},
		},
	},
	"record": {
		initial: func() any { return map[string]any{} },
		mutations: map[string]core.Mutation{
			"SET": func(m core.MutationContext, data any) (any, error) {
				record, err := recordValue(m.State)
				if err != nil {
					return nil, err
				}
				patch, ok := data.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("SET: expected an object, got %T", data)
				}
				return deepMerge(record, patch)
			},
			"DELETE": func(m core.MutationContext, data any) (any, error) {
				record, err := recordValue(m.State)
				if err != nil {
					return nil, err
				}
				key, ok := data.(string)
				if !ok {
					return nil, fmt.Errorf("DELETE: expected a key, got %T", data)
				}
				next := maps.Clone(record)
				if next == nil {
					next = map[string]any{}
				}
				delete(next, key)
				return next, nil
			},
		},
	},
	"value": {
		initial: func() any { return nil },
		mutations: map[string]core.Mutation{
			"SET": func(_ core.MutationContext, data any) (any, error) {
				return cloneValue(data)
			},
		},
	},
	"impure": {
		initial: func() any { return map[string]any{"touched": false} },
		mutations: map[string]core.Mutation{
			// TOUCH returns the current map, which the Store rejects.
			"TOUCH": func(m core.MutationContext, _ any) (any, error) {
				return m.State, nil
			},
		},
	},
}

// newModule builds a module of the named kind. A nil state selects the
// kind's initial state.
func newModule(name string, state any) (core.Module, error) {
	k, ok := kinds[name]
	if !ok {
		return core.Module{}, fmt.Errorf("unknown kind %q", name)
	}
	if state == nil {
		state = k.initial()
	}
	return core.Module{
		State:     state,
		Mutations: k.mutations,
		Actions:   k.actions,
	}, nil
}

// reducers build a view reducer from the view's module ids.
var reducers = map[string]func(moduleIDs []string) core.Reducer{
	"identity": func([]string) core.Reducer {
		return core.Identity
	},
	"keyed": func(moduleIDs []string) core.Reducer {
		ids := append([]string(nil), moduleIDs...)
		return func(states ...any) any {
			out := make(map[string]any, len(states))
			for i, state := range states {
				out[ids[i]] = state
			}
			return out
		}
	},
	"list": func([]string) core.Reducer {
		return func(states ...any) any {
			return append([]any{}, states...)
		}
	},
}

func newReducer(name string, moduleIDs []string) (core.Reducer, error) {
	build, ok := reducers[name]
	if !ok {
		return nil, fmt.Errorf("unknown reducer %q", name)
	}
	return build(moduleIDs), nil
}

func counterValue(state any) (map[string]any, int, error) {
	m, ok := state.(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("counter state must be an object, got %T", state)
	}
	n, err := toInt(m["n"])
	if err != nil {
		return nil, 0, fmt.Errorf("counter state n: %w", err)
	}
	return m, n, nil
}

func addToCounter(state any, delta int) (any, error) {
	m, n, err := counterValue(state)
	if err != nil {
		return nil, err
	}
	return withCount(m, n+delta), nil
}

func withCount(state map[string]any, n int) map[string]any {
	next := make(map[string]any, len(state))
	maps.Copy(next, state)
	next["n"] = n
	return next
}

func listValue(state any) ([]any, error) {
	list, ok := state.([]any)
	if !ok && state != nil {
		return nil, fmt.Errorf("list state must be an array, got %T", state)
	}
	return list, nil
}

func recordValue(state any) (map[string]any, error) {
	record, ok := state.(map[string]any)
	if !ok && state != nil {
		return nil, fmt.Errorf("record state must be an object, got %T", state)
	}
	return record, nil
}

// deepMerge returns a new object with patch merged into base. Nested
// objects merge recursively; arrays and scalars from patch replace what
// base holds.
func deepMerge(base, patch map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	for k, pv := range patch {
		bm, baseIsObject := base[k].(map[string]any)
		pm, patchIsObject := pv.(map[string]any)
		if baseIsObject && patchIsObject {
			merged, err := deepMerge(bm, pm)
			if err != nil {
				return nil, err
			}
			out[k] = merged
			continue
		}
		cloned, err := cloneValue(pv)
		if err != nil {
			return nil, err
		}
		out[k] = cloned
	}
	return out, nil
}

// cloneValue deep copies objects and arrays so module state never shares
// storage with scenario data.
func cloneValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		var out map[string]any
		if err := deepcopy.Copy(&out, val); err != nil {
			return nil, fmt.Errorf("copy object: %w", err)
		}
		return out, nil
	case []any:
		var out []any
		if err := deepcopy.Copy(&out, val); err != nil {
			return nil, fmt.Errorf("copy array: %w", err)
		}
		return out, nil
	default:
		return v, nil
	}
}
