package udp

// MaxUDPPayload is the largest payload a single UDP datagram can carry.
const MaxUDPPayload = 65535

// Config holds configuration for a Listener.
type Config struct {
	// Port is the local UDP port. The listener always binds the wildcard
	// address. Port 0 asks the OS for an ephemeral port.
	Port uint16

	// MaxDatagramSize is the size of the receive buffer for each read.
	// Larger datagrams are truncated by the kernel.
	// Default is MaxUDPPayload.
	MaxDatagramSize int

	// ReadBuffer is the socket receive buffer (SO_RCVBUF) requested after bind.
	// 0 keeps the OS default.
	ReadBuffer int
}

// DefaultConfig returns a Config with sensible defaults for the given port.
func DefaultConfig(port uint16) Config {
	return Config{
		Port:            port,
		MaxDatagramSize: MaxUDPPayload,
		ReadBuffer:      0,
	}
}

// bufferSize returns the per-read buffer size, clamped to a usable range.
func (c *Config) bufferSize() int {
	if c.MaxDatagramSize <= 0 || c.MaxDatagramSize > MaxUDPPayload {
		return MaxUDPPayload
	}
	return c.MaxDatagramSize
}
