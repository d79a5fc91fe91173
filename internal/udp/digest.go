package udp

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// digestTag names the component in the identity digest so listeners never
// collide with other types hashed the same way.
const digestTag = "udp-listener"

// Digest returns a deterministic 64-bit hash of the listener's endpoint.
// Listeners with the same address and port have equal digests. It is meant
// for map keys and log correlation, not for security.
func (l *Listener) Digest() uint64 {
	return endpointDigest(l.endpoint.IP.String(), l.endpoint.Port)
}

// DigestString returns Digest as 16 lowercase hex digits.
func (l *Listener) DigestString() string {
	return fmt.Sprintf("%016x", l.Digest())
}

func endpointDigest(addr string, port int) uint64 {
	d := xxhash.New()
	d.WriteString(digestTag)
	d.WriteString("|")
	d.WriteString(addr)
	d.WriteString("|")
	d.WriteString(strconv.Itoa(port))
	return d.Sum64()
}
