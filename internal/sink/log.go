// Package sink contains ready-made datagram observers.
package sink

import (
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/udp"
)

// LogConfig configures a LogSink.
type LogConfig struct {
	// Rate is the number of log lines per second. 0 disables limiting.
	Rate float64

	// Burst is the number of lines allowed at once when Rate is set.
	Burst int

	// PreviewBytes is how many leading payload bytes are logged as hex.
	PreviewBytes int
}

// LogSink logs one line per datagram. Lines above the configured rate are
// dropped and the next logged line reports how many were suppressed.
type LogSink struct {
	logger     *slog.Logger
	limiter    *rate.Limiter // nil means unlimited
	preview    int
	suppressed atomic.Uint64
	now        func() time.Time
}

// NewLogSink creates a LogSink writing to logger.
func NewLogSink(logger *slog.Logger, cfg LogConfig) *LogSink {
	s := &LogSink{
		logger:  logging.Component(logger, "sink"),
		preview: cfg.PreviewBytes,
		now:     time.Now,
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return s
}

// Handle is a udp.Handler.
func (s *LogSink) Handle(d udp.Datagram) {
	if s.limiter != nil && !s.limiter.AllowN(s.now(), 1) {
		s.suppressed.Add(1)
		return
	}

	attrs := []any{
		logging.KeySession, d.Session,
		logging.KeyBytes, len(d.Payload),
		logging.KeySize, humanize.IBytes(uint64(len(d.Payload))),
	}
	if d.Source != nil {
		attrs = append(attrs, logging.KeyRemoteAddr, d.Source.String())
	}
	if s.preview > 0 {
		attrs = append(attrs, "preview", Preview(d.Payload, s.preview))
	}
	if n := s.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, logging.KeySuppressed, n)
	}

	s.logger.Info("datagram received", attrs...)
}

// Suppressed returns the number of lines dropped since the last logged line.
func (s *LogSink) Suppressed() uint64 {
	return s.suppressed.Load()
}

// Preview hex-encodes at most n leading bytes of payload, appending "..."
// when the payload is longer.
func Preview(payload []byte, n int) string {
	if n <= 0 {
		return ""
	}
	if len(payload) <= n {
		return hex.EncodeToString(payload)
	}
	return hex.EncodeToString(payload[:n]) + "..."
}
