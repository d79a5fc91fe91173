package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "receiveLoop")
		panic("test panic")
	}()

	wg.Wait()

	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "receiveLoop") {
		t.Errorf("expected goroutine name in output, got: %s", output)
	}
	if !strings.Contains(output, "test panic") {
		t.Errorf("expected panic message in output, got: %s", output)
	}
	if !strings.Contains(output, "stack=") {
		t.Errorf("expected stack trace in output, got: %s", output)
	}
}

func TestRecoverWithLog_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithLog(logger, "normal")
	}()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
}

func TestRecoverWithLog_NilLogger(t *testing.T) {
	completed := false
	func() {
		defer func() { completed = true }()
		defer RecoverWithLog(nil, "nil logger")
		panic("ignored")
	}()

	if !completed {
		t.Error("expected function to complete after recovery")
	}
}

func TestRecoverWithCallback_CallsCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var recoveredValue any
	callbackCalled := false

	func() {
		defer RecoverWithCallback(logger, "observer:sink", func(r any) {
			callbackCalled = true
			recoveredValue = r
		})
		panic("callback test")
	}()

	if !callbackCalled {
		t.Error("expected callback to be called")
	}
	if recoveredValue != "callback test" {
		t.Errorf("expected recovered value 'callback test', got: %v", recoveredValue)
	}
}

func TestRecoverWithCallback_NilCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithCallback(logger, "nilCallback", nil)
		panic("nil callback test")
	}()

	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got: %s", buf.String())
	}
}

func TestCall(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ran := false
	if Call(logger, "ok", func() { ran = true }) {
		t.Error("Call reported panic for a normal function")
	}
	if !ran {
		t.Error("Call did not run fn")
	}
	if buf.Len() > 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}

	if !Call(logger, "observer:bad", func() { panic("boom") }) {
		t.Error("Call did not report panic")
	}
	if !strings.Contains(buf.String(), "observer:bad") {
		t.Errorf("expected observer name in output, got: %s", buf.String())
	}
}
