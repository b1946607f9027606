package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes Store errors.
type ErrorCode string

const (
	// ErrCodeDuplicateID indicates a module or view id is already in use.
	ErrCodeDuplicateID ErrorCode = "DUPLICATE_ID"

	// ErrCodeNotFound indicates a module or view id does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeHasDependents indicates a module is still referenced by user views.
	ErrCodeHasDependents ErrorCode = "HAS_DEPENDENTS"

	// ErrCodeDefaultView indicates an attempt to uncombine a module's default view.
	ErrCodeDefaultView ErrorCode = "DEFAULT_VIEW"

	// ErrCodeHasSubscribers indicates a view still has active subscriptions.
	ErrCodeHasSubscribers ErrorCode = "HAS_SUBSCRIBERS"

	// ErrCodeUnknownSubscription indicates a subscription id is not attached to the view.
	ErrCodeUnknownSubscription ErrorCode = "UNKNOWN_SUBSCRIPTION"

	// ErrCodeUnknownMutation indicates the module defines no mutation with that name.
	ErrCodeUnknownMutation ErrorCode = "UNKNOWN_MUTATION"

	// ErrCodeUnknownAction indicates the module defines no action with that name.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// ErrCodeImpurity indicates a mutation returned the previous container unchanged.
	ErrCodeImpurity ErrorCode = "IMPURITY"

	// ErrCodeStopped indicates the dispatcher loop has been stopped.
	ErrCodeStopped ErrorCode = "STOPPED"

	// ErrCodeInvalidArgument indicates a nil reducer or handler.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrDuplicateID         = &Error{Code: ErrCodeDuplicateID}
	ErrNotFound            = &Error{Code: ErrCodeNotFound}
	ErrHasDependents       = &Error{Code: ErrCodeHasDependents}
	ErrDefaultView         = &Error{Code: ErrCodeDefaultView}
	ErrHasSubscribers      = &Error{Code: ErrCodeHasSubscribers}
	ErrUnknownSubscription = &Error{Code: ErrCodeUnknownSubscription}
	ErrUnknownMutation     = &Error{Code: ErrCodeUnknownMutation}
	ErrUnknownAction       = &Error{Code: ErrCodeUnknownAction}
	ErrImpurity            = &Error{Code: ErrCodeImpurity}
	ErrStopped             = &Error{Code: ErrCodeStopped}
	ErrInvalidArgument     = &Error{Code: ErrCodeInvalidArgument}
)

// Error is returned by every Store operation that rejects its input.
//
// Errors are raised synchronously to the immediate caller. The Store never
// retries and never leaves a registry half-updated after returning one.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed, phrased for messages
	// (e.g. "register module", "subscribe to view").
	Op string

	// ID is the module or view id the operation targeted.
	ID string

	// Message is a human-readable reason.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		if e.Message == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("could not %s %q: %s", e.Op, e.ID, e.Message)
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a Store error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func newError(code ErrorCode, op, id, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		ID:      id,
		Message: fmt.Sprintf(format, args...),
	}
}

// Operation names used in error messages.
const (
	opRegister    = "register module"
	opUnregister  = "unregister module"
	opCombine     = "create view"
	opUncombine   = "uncombine view"
	opSubscribe   = "subscribe to view"
	opUnsubscribe = "unsubscribe from view"
	opMutate      = "perform mutation on module"
	opDispatch    = "dispatch action to module"
	opSnapshot    = "snapshot view"
	opCount       = "count subscriptions of view"
)
