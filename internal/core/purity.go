package core

import (
	"fmt"
	"reflect"

	"github.com/tiendc/go-deepcopy"
)

// InitMutation names the bootstrap mutation Register applies to every new
// module. It shows up in observers and the journal but cannot be called
// through Mutate.
const InitMutation = "@init"

// sameContainer reports whether next aliases prev: both are non-nil maps,
// slices, pointers or channels of the same type sharing the same backing
// storage. A slice appended in place counts as aliasing; an empty slice
// never does.
func sameContainer(prev, next any) bool {
	if prev == nil || next == nil {
		return false
	}
	pv, nv := reflect.ValueOf(prev), reflect.ValueOf(next)
	if pv.Type() != nv.Type() {
		return false
	}
	switch pv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan:
		if pv.IsNil() || nv.IsNil() {
			return false
		}
		// Zero-capacity slices and pointers to zero-size values may share
		// the runtime's zero-size address without sharing any storage.
		if pv.Kind() == reflect.Slice && (pv.Cap() == 0 || nv.Cap() == 0) {
			return false
		}
		if pv.Kind() == reflect.Pointer && pv.Type().Elem().Size() == 0 {
			return false
		}
		return pv.Pointer() == nv.Pointer()
	default:
		return false
	}
}

// snapshot returns a deep copy of v. Values without shared backing storage
// (numbers, strings, bools, nil containers) are returned as is.
func snapshot(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return v, nil
		}
	case reflect.Struct, reflect.Array:
	default:
		return v, nil
	}

	dst := reflect.New(rv.Type())
	if err := deepcopy.Copy(dst.Interface(), v); err != nil {
		return nil, fmt.Errorf("deep copy %T: %w", v, err)
	}
	return dst.Elem().Interface(), nil
}

// initialize is the InitMutation: it detaches the registered state from the
// caller's value.
func initialize(m MutationContext, _ any) (any, error) {
	return snapshot(m.State)
}
