// Package udp implements a single-endpoint UDP listener that republishes every
// received datagram to registered observers.
//
// A Listener is bound to the wildcard address on a fixed port chosen at
// construction. The socket is opened by StartListening, which runs the receive
// loop on the calling goroutine until the session is stopped, exited, or fails.
//
// # Lifecycle
//
//  1. NewListener stores the endpoint; nothing is opened yet
//  2. StartListening binds the socket and creates a one-shot cancellation context
//  3. Each datagram is copied and delivered synchronously to every observer,
//     in registration order, before the next read begins
//  4. StopListening or Exit cancels the context and closes the socket, which
//     unblocks the pending read; the loop returns nil
//  5. Any other read error ends the loop and is returned as a *TransportError
//
// Only one session may be active at a time; a second StartListening returns
// ErrAlreadyListening. Observer registrations survive across sessions.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. StopListening and Exit may
// be called from any goroutine while StartListening is blocked in a read.
package udp
