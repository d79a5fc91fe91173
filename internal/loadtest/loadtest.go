// Package loadtest sends UDP datagrams at a listener to exercise it under load.
package loadtest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// MaxPayload is the largest datagram the generator will send over IPv4.
const MaxPayload = 65507

// Config configures a DatagramLoadGenerator.
type Config struct {
	Concurrency int           // sending sockets
	Size        int           // payload bytes per datagram, at least 8
	Count       int64         // total datagrams, 0 = until Duration
	Duration    time.Duration // 0 = until Count
	Rate        float64       // datagrams per second across all workers, 0 = unlimited
}

// Validate checks that the configuration describes a finite run.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.New("concurrency must be at least 1")
	case c.Size < 8 || c.Size > MaxPayload:
		return fmt.Errorf("size must be between 8 and %d bytes", MaxPayload)
	case c.Count < 0 || c.Duration < 0 || c.Rate < 0:
		return errors.New("count, duration and rate must not be negative")
	case c.Count == 0 && c.Duration == 0:
		return errors.New("either count or duration must be set")
	}
	return nil
}

// DatagramMetrics contains the results of a load run.
type DatagramMetrics struct {
	Sent               int64
	Failed             int64
	BytesSent          int64
	Duration           time.Duration
	DatagramsPerSecond float64
	ThroughputMBps     float64
}

// String summarises the run on one line.
func (m *DatagramMetrics) String() string {
	return fmt.Sprintf("sent %s datagrams (%s) in %s, %s/s, %.2f MiB/s, %d failed",
		humanize.Comma(m.Sent),
		humanize.IBytes(uint64(m.BytesSent)),
		m.Duration.Round(time.Millisecond),
		humanize.CommafWithDigits(m.DatagramsPerSecond, 0),
		m.ThroughputMBps,
		m.Failed)
}

// DatagramLoadGenerator sends datagrams from several sockets in parallel.
// Every payload starts with a big-endian sequence number; the rest is random.
type DatagramLoadGenerator struct {
	cfg     Config
	limiter *rate.Limiter
	seq     atomic.Int64

	metrics DatagramMetrics
	mu      sync.Mutex
}

// NewDatagramLoadGenerator creates a generator. Call Config.Validate first.
func NewDatagramLoadGenerator(cfg Config) *DatagramLoadGenerator {
	g := &DatagramLoadGenerator{cfg: cfg}
	if cfg.Rate > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return g
}

// Run sends datagrams to target until Count is reached, Duration elapses,
// or ctx is cancelled.
func (g *DatagramLoadGenerator) Run(ctx context.Context, target *net.UDPAddr) (*DatagramMetrics, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, err
	}

	if g.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Duration)
		defer cancel()
	}

	conns := make([]*net.UDPConn, 0, g.cfg.Concurrency)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < g.cfg.Concurrency; i++ {
		c, err := net.DialUDP("udp", nil, target)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		conns = append(conns, c)
	}

	var wg sync.WaitGroup
	startTime := time.Now()

	for _, c := range conns {
		wg.Add(1)
		go func(c *net.UDPConn) {
			defer wg.Done()
			g.runWorker(ctx, c)
		}(c)
	}

	wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.metrics.Duration = time.Since(startTime)
	if g.metrics.Duration > 0 {
		seconds := g.metrics.Duration.Seconds()
		g.metrics.DatagramsPerSecond = float64(g.metrics.Sent) / seconds
		g.metrics.ThroughputMBps = float64(g.metrics.BytesSent) / (1024 * 1024) / seconds
	}

	result := g.metrics
	return &result, nil
}

func (g *DatagramLoadGenerator) runWorker(ctx context.Context, conn *net.UDPConn) {
	data := make([]byte, g.cfg.Size)
	rand.Read(data)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		seq := g.seq.Add(1)
		if g.cfg.Count > 0 && seq > g.cfg.Count {
			return
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return
			}
		}

		binary.BigEndian.PutUint64(data, uint64(seq))

		n, err := conn.Write(data)

		g.mu.Lock()
		if err != nil {
			g.metrics.Failed++
		} else {
			g.metrics.Sent++
			g.metrics.BytesSent += int64(n)
		}
		g.mu.Unlock()
	}
}

// Sequence extracts the sequence number a generator stamped into payload.
// It returns false for payloads shorter than 8 bytes.
func Sequence(payload []byte) (int64, bool) {
	if len(payload) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(payload)), true
}
