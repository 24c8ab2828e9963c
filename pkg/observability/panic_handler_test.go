package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "sweep")
		panic("boom")
	}()

	out := buf.String()
	if !strings.Contains(out, "PANIC recovered") || !strings.Contains(out, `"context":"sweep"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "handler", func(r interface{}) { got = r })
		panic("boom")
	}()
	if got != "boom" {
		t.Errorf("callback received %v", got)
	}

	called := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "handler", func(interface{}) { called = true })
	}()
	if called {
		t.Error("callback must not run without a panic")
	}
}

func TestPanicError(t *testing.T) {
	if PanicError(nil) != nil {
		t.Error("expected nil")
	}
	if err := PanicError("x"); err == nil || err.Error() != "panic: x" {
		t.Errorf("unexpected error %v", err)
	}
}
