package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/metrics"
	"github.com/postalsys/udp-listener/internal/recovery"
)

// Stats is a point-in-time snapshot of listener activity.
type Stats struct {
	State          State
	LocalAddr      string
	Session        uint64 // current session number, 0 while idle
	Sessions       uint64 // sessions started since construction
	Datagrams      uint64
	Bytes          uint64
	ObserverPanics uint64
	Observers      int
	LastDatagramAt time.Time // zero if nothing was received yet
}

// Listener receives datagrams on one UDP endpoint and republishes them.
type Listener struct {
	mu          sync.Mutex
	session     *session // non-nil exactly while Listening
	nextSession uint64

	endpoint  *net.UDPAddr // immutable after NewListener
	config    Config
	observers *Observers
	logger    *slog.Logger
	metrics   atomic.Pointer[metrics.Metrics]

	// listen binds the socket; replaced in tests.
	listen func(addr *net.UDPAddr) (packetConn, error)

	sessions     atomic.Uint64
	datagrams    atomic.Uint64
	bytes        atomic.Uint64
	panics       atomic.Uint64
	lastDatagram atomic.Int64 // unix nanos
}

// NewListener creates a listener for the wildcard address on cfg.Port.
// The socket is not opened until StartListening.
func NewListener(cfg Config, logger *slog.Logger) *Listener {
	l := &Listener{
		endpoint: &net.UDPAddr{IP: net.IPv4zero, Port: int(cfg.Port)},
		config:   cfg,
		logger:   logging.Component(logger, "udp").With(slog.Int(logging.KeyPort, int(cfg.Port))),
	}
	l.listen = l.bind
	l.observers = NewObservers(l.logger)
	l.observers.setHooks(
		func(name string) {
			l.panics.Add(1)
			l.metrics.Load().RecordObserverPanic(name)
		},
		func(count int) {
			l.metrics.Load().SetObservers(count)
		},
	)
	return l
}

// SetMetrics attaches Prometheus instrumentation. Pass nil to detach.
func (l *Listener) SetMetrics(m *metrics.Metrics) {
	l.metrics.Store(m)
	m.SetObservers(l.observers.Len())
}

// Subscribe registers a datagram observer. Registrations persist across
// sessions and may be added while the receive loop is running.
func (l *Listener) Subscribe(name string, fn Handler) Subscription {
	id := l.observers.Subscribe(name, fn)
	l.logger.Debug("observer subscribed", logging.KeyObserver, name)
	return id
}

// Unsubscribe removes an observer. It reports whether the subscription existed.
func (l *Listener) Unsubscribe(id Subscription) bool {
	return l.observers.Unsubscribe(id)
}

// ObserverCount returns the number of registered observers.
func (l *Listener) ObserverCount() int {
	return l.observers.Len()
}

// StartListening binds the socket and runs the receive loop on the calling
// goroutine until the session ends.
//
// It returns ErrAlreadyListening without side effects if a session is active,
// nil when the session was stopped (StopListening, Exit, or ctx cancellation),
// and a *TransportError if binding or receiving failed. The loop is never
// restarted automatically.
func (l *Listener) StartListening(ctx context.Context) error {
	l.mu.Lock()
	if l.session != nil {
		l.mu.Unlock()
		return ErrAlreadyListening
	}

	conn, err := l.listen(l.endpoint)
	if err != nil {
		l.mu.Unlock()
		l.metrics.Load().RecordBindError()
		l.logger.Error("failed to bind UDP socket", logging.KeyError, err)
		return &TransportError{Op: "bind", Err: err}
	}

	l.nextSession++
	sess := newSession(ctx, l.nextSession, conn)
	l.session = sess
	l.mu.Unlock()

	l.sessions.Add(1)
	l.metrics.Load().RecordSessionStart()
	l.logger.Info("listener started",
		logging.KeySession, sess.id,
		logging.KeyLocalAddr, conn.LocalAddr().String())

	reason := metrics.ReasonStopped
	defer func() {
		l.finish(sess, reason)
	}()

	buf := make([]byte, l.config.bufferSize())
	for {
		if sess.cancelled() {
			return nil
		}

		n, src, err := sess.conn.ReadFromUDP(buf)
		if err != nil {
			if sess.cancelled() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			reason = metrics.ReasonTransportError
			l.logger.Error("error receiving datagram",
				logging.KeySession, sess.id,
				logging.KeyError, err)
			return &TransportError{Op: "receive", Err: err}
		}

		l.deliver(sess, buf[:n], src)
	}
}

// deliver copies the payload out of the read buffer and publishes it.
func (l *Listener) deliver(sess *session, data []byte, src *net.UDPAddr) {
	payload := make([]byte, len(data))
	copy(payload, data)

	now := time.Now()
	l.datagrams.Add(1)
	l.bytes.Add(uint64(len(payload)))
	l.lastDatagram.Store(now.UnixNano())
	l.metrics.Load().RecordDatagram(len(payload))

	l.observers.Publish(Datagram{
		Payload:    payload,
		Source:     src,
		ReceivedAt: now,
		Session:    sess.id,
	})

	l.logger.Debug("datagram received",
		logging.KeySession, sess.id,
		logging.KeyRemoteAddr, src.String(),
		logging.KeyBytes, len(payload))
}

// finish tears down a session when its loop returns. Exit may already have
// closed the socket and detached the session; both steps are idempotent.
func (l *Listener) finish(sess *session, reason string) {
	if err := sess.shutdown(); err != nil {
		l.logger.Warn("error closing UDP socket",
			logging.KeySession, sess.id,
			logging.KeyError, err)
	}
	sess.release()

	l.mu.Lock()
	if l.session == sess {
		l.session = nil
	}
	l.mu.Unlock()

	l.metrics.Load().RecordSessionEnd(reason)
	l.logger.Info("listener stopped",
		logging.KeySession, sess.id,
		logging.KeyReason, reason,
		logging.KeyDuration, time.Since(sess.startedAt))
}

// StopListening cancels the active session and closes its socket. It does not
// wait for the receive loop to return. Calling it while idle is a no-op.
func (l *Listener) StopListening() {
	l.mu.Lock()
	sess := l.session
	l.mu.Unlock()

	if sess == nil {
		return
	}

	if err := sess.shutdown(); err != nil {
		l.logger.Warn("error closing UDP socket",
			logging.KeySession, sess.id,
			logging.KeyError, err)
	}
	l.logger.Debug("stop requested", logging.KeySession, sess.id)
}

// Exit performs a full teardown: the active session is cancelled, its socket
// closed, its context released and the session detached, so StartListening
// can be called again immediately. Failures are logged, never returned.
func (l *Listener) Exit() {
	defer recovery.RecoverWithLog(l.logger, "exit")

	l.mu.Lock()
	sess := l.session
	l.session = nil
	l.mu.Unlock()

	if sess == nil {
		return
	}

	if err := sess.shutdown(); err != nil {
		l.logger.Warn("error while exiting UDP listener",
			logging.KeySession, sess.id,
			logging.KeyError, err)
	}
	sess.release()

	l.logger.Info("listener exited and resources released", logging.KeySession, sess.id)
}

// State returns the current session state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		return StateListening
	}
	return StateIdle
}

// IsListening reports whether a session is active.
func (l *Listener) IsListening() bool {
	return l.State() == StateListening
}

// LocalAddr returns the bound socket address of the active session, or nil
// while idle. With Port 0 this is where the ephemeral port shows up.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return nil
	}
	return l.session.conn.LocalAddr()
}

// Endpoint returns a copy of the configured bind address.
func (l *Listener) Endpoint() *net.UDPAddr {
	return &net.UDPAddr{IP: append(net.IP(nil), l.endpoint.IP...), Port: l.endpoint.Port}
}

// Stats returns a snapshot of listener counters.
func (l *Listener) Stats() Stats {
	st := Stats{
		State:          StateIdle,
		Sessions:       l.sessions.Load(),
		Datagrams:      l.datagrams.Load(),
		Bytes:          l.bytes.Load(),
		ObserverPanics: l.panics.Load(),
		Observers:      l.observers.Len(),
	}
	if ns := l.lastDatagram.Load(); ns != 0 {
		st.LastDatagramAt = time.Unix(0, ns)
	}

	l.mu.Lock()
	if l.session != nil {
		st.State = StateListening
		st.Session = l.session.id
		st.LocalAddr = l.session.conn.LocalAddr().String()
	}
	l.mu.Unlock()

	return st
}

// bind opens the UDP socket and applies the receive buffer size.
func (l *Listener) bind(addr *net.UDPAddr) (packetConn, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	if l.config.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(l.config.ReadBuffer); err != nil {
			l.logger.Warn("failed to set UDP read buffer",
				logging.KeySize, l.config.ReadBuffer,
				logging.KeyError, err)
		}
	}

	return conn, nil
}
