package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Err panics if err != nil, attaching the current stack.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics with a formatted message when condition is false.
// Used for misuse that must not be recovered from, e.g. shutting a pool down twice.
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		fail(message, args...)
	}
}

// NotNil panics if v is nil, including typed nil pointers and nil funcs.
func NotNil(v interface{}, name string) {
	if v == nil {
		fail("%s is nil", name)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Interface, reflect.Map, reflect.Chan, reflect.Slice:
		if rv.IsNil() {
			fail("%s is nil", name)
		}
	}
}

func fail(message string, args ...interface{}) {
	panic(fmt.Errorf("fail-fast: "+message, args...))
}
