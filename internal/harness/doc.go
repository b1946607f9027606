// Package harness runs declarative scenarios against a real core.Store.
//
// A scenario registers modules built from a small catalog of kinds, combines
// them into views, then executes a list of steps (subscribe, mutate,
// dispatch, unregister, ...). After every step the harness settles the
// Store, so every notification caused by the step has been delivered before
// the next one starts. That makes the recorded trace deterministic and
// suitable for golden file comparison.
//
// Scenarios are written in YAML or CUE:
//
//	name: counter_increments
//	description: INC twice produces two ordered notifications
//	modules:
//	  - id: counter
//	    kind: counter
//	steps:
//	  - op: subscribe
//	    view: counter
//	    as: h1
//	  - op: mutate
//	    module: counter
//	    name: INC
//	assertions:
//	  - type: deliveries
//	    subscription: h1
//	    states: [{n: 0}, {n: 1}]
package harness
