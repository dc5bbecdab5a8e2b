package failfast

import (
	"errors"
	"strings"
	"testing"
)

func expectPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected panic, got none")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("Expected error type, got: %T", r)
		}
		if want != "" && !strings.HasPrefix(err.Error(), want) {
			t.Errorf("Expected %q, got %q", want, err.Error())
		}
	}()
	fn()
}

func TestErr(t *testing.T) {
	t.Run("no error", func(t *testing.T) {
		Err(nil)
	})

	t.Run("with error", func(t *testing.T) {
		expectPanic(t, "fail-fast: boom", func() { Err(errors.New("boom")) })
	})
}

func TestIf(t *testing.T) {
	t.Run("condition true", func(t *testing.T) {
		If(true, "should not panic")
	})

	t.Run("formatted message", func(t *testing.T) {
		expectPanic(t, "fail-fast: pool \"web\" already shut down", func() {
			If(false, "pool %q already shut down", "web")
		})
	})
}

func TestNotNil(t *testing.T) {
	t.Run("not nil", func(t *testing.T) {
		val := "test"
		NotNil(&val, "val")
		NotNil(func() {}, "fn")
	})

	t.Run("nil pointer", func(t *testing.T) {
		var ptr *string
		expectPanic(t, "fail-fast: ptr is nil", func() { NotNil(ptr, "ptr") })
	})

	t.Run("nil func", func(t *testing.T) {
		var fn func()
		expectPanic(t, "fail-fast: handler is nil", func() { NotNil(fn, "handler") })
	})

	t.Run("nil interface", func(t *testing.T) {
		var val interface{}
		expectPanic(t, "fail-fast: val is nil", func() { NotNil(val, "val") })
	})
}

func TestCapture(t *testing.T) {
	t.Run("returns normally", func(t *testing.T) {
		ran := false
		if err := Capture(func() { ran = true }); err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
		if !ran {
			t.Error("Capture() did not run fn")
		}
	})

	t.Run("panic with string", func(t *testing.T) {
		err := Capture(func() { panic("job exploded") })
		var pe *PanicError
		if !errors.As(err, &pe) {
			t.Fatalf("Capture() error = %v, want *PanicError", err)
		}
		if pe.Value != "job exploded" {
			t.Errorf("Value = %v, want job exploded", pe.Value)
		}
		if len(pe.Stack) == 0 {
			t.Error("expected stack to be recorded")
		}
		if err.Error() != "panic: job exploded" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("panic with error unwraps", func(t *testing.T) {
		sentinel := errors.New("sentinel")
		err := Capture(func() { panic(sentinel) })
		if !errors.Is(err, sentinel) {
			t.Errorf("errors.Is(%v, sentinel) = false", err)
		}
	})
}
