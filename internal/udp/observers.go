package udp

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/recovery"
)

// Datagram is one received UDP message.
type Datagram struct {
	// Payload holds the bytes exactly as received. Every observer receives the
	// same slice and must treat it as read-only.
	Payload []byte

	// Source is the sender's address.
	Source *net.UDPAddr

	// ReceivedAt is when the read returned.
	ReceivedAt time.Time

	// Session is the number of the listening session that received it.
	Session uint64
}

// Handler receives datagrams. It runs on the receive loop goroutine, so a slow
// handler delays the next read.
type Handler func(Datagram)

// Subscription identifies a registered observer.
type Subscription uint64

type observer struct {
	id   Subscription
	name string
	fn   Handler
}

// Observers is a copy-on-write registry of datagram handlers. Subscribe and
// Unsubscribe may race with Publish; a publish in progress keeps delivering to
// the snapshot it started with.
type Observers struct {
	mu      sync.RWMutex
	entries []observer // registration order, never mutated in place
	nextID  Subscription

	logger *slog.Logger

	// onPanic and onChange let the listener feed metrics.
	onPanic  func(name string)
	onChange func(count int)
}

// NewObservers creates an empty registry. Observer panics are logged to logger.
func NewObservers(logger *slog.Logger) *Observers {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Observers{logger: logger}
}

// Subscribe registers fn under name and returns its handle.
func (o *Observers) Subscribe(name string, fn Handler) Subscription {
	o.mu.Lock()
	o.nextID++
	id := o.nextID

	entries := make([]observer, len(o.entries), len(o.entries)+1)
	copy(entries, o.entries)
	o.entries = append(entries, observer{id: id, name: name, fn: fn})
	count := len(o.entries)
	onChange := o.onChange
	o.mu.Unlock()

	if onChange != nil {
		onChange(count)
	}
	return id
}

// Unsubscribe removes a registration. It reports whether the handle was known.
func (o *Observers) Unsubscribe(id Subscription) bool {
	o.mu.Lock()
	idx := -1
	for i, e := range o.entries {
		if e.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return false
	}

	entries := make([]observer, 0, len(o.entries)-1)
	entries = append(entries, o.entries[:idx]...)
	entries = append(entries, o.entries[idx+1:]...)
	o.entries = entries
	count := len(o.entries)
	onChange := o.onChange
	o.mu.Unlock()

	if onChange != nil {
		onChange(count)
	}
	return true
}

// Len returns the number of registered observers.
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.entries)
}

// Publish delivers d to every observer in registration order. A panicking
// observer is recovered and logged; delivery continues with the next one.
// Returns the number of observers that panicked.
func (o *Observers) Publish(d Datagram) (panicked int) {
	o.mu.RLock()
	entries := o.entries
	onPanic := o.onPanic
	o.mu.RUnlock()

	for _, e := range entries {
		fn := e.fn
		if recovery.Call(o.logger, "observer:"+e.name, func() { fn(d) }) {
			panicked++
			if onPanic != nil {
				onPanic(e.name)
			}
		}
	}
	return panicked
}

// setHooks installs metric callbacks. Called once from NewListener.
func (o *Observers) setHooks(onPanic func(string), onChange func(int)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.onPanic = onPanic
	o.onChange = onChange
}
