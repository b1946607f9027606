// Package core implements the statecore Store: a registry of state modules,
// the combined views projected over them, and the pipeline that turns a
// mutation into subscriber notifications.
//
// ARCHITECTURE:
//
// Registries:
// The Store owns two maps keyed by caller-chosen string ids. Modules hold a
// state value plus named mutations and actions. Combined views hold an
// ordered list of module ids, a reducer and the subscriptions attached to
// the view. Every module owns a default view with its own id and an identity
// reducer, so raw module state is subscribable without an explicit Combine.
//
// Mutation Pipeline:
//  1. Mutate looks up the module and the named mutation
//  2. The mutation runs outside the registry lock and returns a new state
//  3. The state is committed, stamped with the next Clock seq, and every
//     affected view is reduced once over the current states of its modules
//  4. One notification per subscriber is appended to the FIFO queue behind
//     a gate
//  5. Middlewares and observers run synchronously, then the gate opens
//  6. The dispatcher goroutine (Run) delivers notifications in queue order
//
// Single-Consumer Delivery:
// Subscriber handlers never run inside Mutate. They run on the dispatcher
// goroutine, one at a time, in the order their mutations were committed. A
// handler that mutates again only appends to the tail of the queue, so
// pending notifications from earlier mutations are never overtaken.
//
// A notification whose subscription was removed before delivery is dropped
// silently.
//
// Locking:
// The registry mutex is never held while user code runs, with the single
// exception of reducers, which must be pure and must not call back into
// the Store.
package core
