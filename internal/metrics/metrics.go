// Package metrics provides Prometheus metrics for the UDP listener.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udp_listener"
)

// Session end reasons used as label values.
const (
	ReasonStopped        = "stopped"
	ReasonTransportError = "transport_error"
)

// Metrics contains all Prometheus metrics for the listener.
//
// All Record and Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	ReceiveLoops    prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	BindErrors      prometheus.Counter

	// Datagram metrics
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	DatagramSize      prometheus.Histogram

	// Observer metrics
	Observers      prometheus.Gauge
	ObserverPanics *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReceiveLoops: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receive_loops",
			Help:      "Number of receive loops currently running",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of listening sessions started",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of listening sessions ended by reason",
		}, []string{"reason"}),
		BindErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_errors_total",
			Help:      "Total number of failed socket binds",
		}),

		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received",
		}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datagram_size_bytes",
			Help:      "Histogram of received datagram payload sizes",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 7), // 16B .. 64KiB
		}),

		Observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Number of registered datagram observers",
		}),
		ObserverPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_panics_total",
			Help:      "Total observer panics recovered by observer name",
		}, []string{"observer"}),
	}
}

// RecordSessionStart records a session that bound its socket.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ReceiveLoops.Inc()
}

// RecordSessionEnd records the end of a session.
func (m *Metrics) RecordSessionEnd(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.ReceiveLoops.Dec()
}

// RecordBindError records a failed bind.
func (m *Metrics) RecordBindError() {
	if m == nil {
		return
	}
	m.BindErrors.Inc()
}

// RecordDatagram records one received datagram of the given size.
func (m *Metrics) RecordDatagram(size int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(size))
	m.DatagramSize.Observe(float64(size))
}

// SetObservers sets the registered observer count.
func (m *Metrics) SetObservers(count int) {
	if m == nil {
		return
	}
	m.Observers.Set(float64(count))
}

// RecordObserverPanic records a recovered observer panic.
func (m *Metrics) RecordObserverPanic(observer string) {
	if m == nil {
		return
	}
	m.ObserverPanics.WithLabelValues(observer).Inc()
}
