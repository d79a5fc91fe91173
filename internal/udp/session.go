package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// State is the listener's session state.
type State int

const (
	// StateIdle means no socket is open and StartListening may be called.
	StateIdle State = iota
	// StateListening means a session owns a bound socket and a receive loop is running.
	StateListening
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	default:
		return "UNKNOWN"
	}
}

// packetConn is the subset of *net.UDPConn the receive loop needs.
type packetConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	LocalAddr() net.Addr
	Close() error
}

// session is the Listening variant of the listener state: one bound socket and
// one cancellation context. It is torn down exactly once.
type session struct {
	id        uint64
	conn      packetConn
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	// stopAfter detaches the context.AfterFunc that closes conn on cancellation.
	stopAfter func() bool

	closeOnce sync.Once
}

func newSession(parent context.Context, id uint64, conn packetConn) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		id:        id,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	// Closing the socket is the only way to unblock a pending ReadFromUDP.
	s.stopAfter = context.AfterFunc(ctx, func() {
		s.close()
	})
	return s
}

// cancelled reports whether the session was asked to stop.
func (s *session) cancelled() bool {
	return s.ctx.Err() != nil
}

// shutdown cancels the session and closes its socket. Safe to call repeatedly
// and from any goroutine. Only the call that actually closes the socket can
// return an error; net.ErrClosed is not reported.
func (s *session) shutdown() error {
	s.cancel()
	return s.close()
}

// release detaches the cancellation hook and frees the context.
func (s *session) release() {
	s.stopAfter()
	s.cancel()
}

func (s *session) close() (err error) {
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
