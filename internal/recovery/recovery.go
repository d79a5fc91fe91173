// Package recovery contains panic containment helpers for the receive loop,
// observer callbacks and teardown paths.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// It must be deferred directly:
//
//	defer recovery.RecoverWithLog(logger, "exit")
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from panics, logs them, and calls the optional callback
// with the recovered value.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Call runs fn and contains any panic it raises. It reports whether fn
// panicked; the panic is logged under name.
func Call(logger *slog.Logger, name string, fn func()) (panicked bool) {
	defer RecoverWithCallback(logger, name, func(any) {
		panicked = true
	})
	fn()
	return false
}

func logPanic(logger *slog.Logger, name string, r any) {
	if logger == nil {
		return
	}
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
