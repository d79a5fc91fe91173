package udp

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyListening is returned by StartListening while a session is active.
	ErrAlreadyListening = errors.New("listener is already running")

	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("udp transport failure")
)

// TransportError is a bind or receive failure that ended a session.
// The listener does not retry; the caller decides whether to start again.
type TransportError struct {
	Op  string // "bind" or "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("udp %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport as a match so callers need not use errors.As.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
