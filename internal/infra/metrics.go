package infra

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics keeps atomic counters for the periodic stats log and mirrors them
// into prometheus collectors for scraping. A nil *Metrics is a valid no-op.
type Metrics struct {
	// Counters
	framesReceived atomic.Uint64
	decodeFailures atomic.Uint64
	reconnects     atomic.Uint64
	staleKills     atomic.Uint64
	authFailures   atomic.Uint64
	booksApplied   atomic.Uint64
	publishes      atomic.Uint64
	unitFailures   atomic.Uint64

	// Gauges
	queues atomic.Int32

	promFrames       prometheus.Counter
	promDecode       *prometheus.CounterVec
	promReconnects   prometheus.Counter
	promStale        prometheus.Counter
	promAuth         prometheus.Counter
	promBooks        prometheus.Counter
	promPublishes    *prometheus.CounterVec
	promUnitFailures prometheus.Counter
	promQueues       prometheus.Gauge
	promQueueDepth   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
// Pass a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "frames_received_total",
			Help: "Frames read from the exchange stream.",
		}),
		promDecode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spider", Name: "decode_failures_total",
			Help: "Frames dropped because they could not be decoded or applied.",
		}, []string{"kind"}),
		promReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "reconnects_total",
			Help: "Connection cycles ended by an error, a close or the watchdog.",
		}),
		promStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "stale_kills_total",
			Help: "Connections torn down by the staleness watchdog.",
		}),
		promAuth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "auth_failures_total",
			Help: "Rejected or timed out login attempts.",
		}),
		promBooks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "books_applied_total",
			Help: "Snapshots and updates applied to replicas.",
		}),
		promPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spider", Name: "publishes_total",
			Help: "Payloads handed to the sink.",
		}, []string{"kind"}),
		promUnitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spider", Name: "unit_failures_total",
			Help: "Dispatched units that returned an error or panicked.",
		}),
		promQueues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spider", Name: "worker_queues",
			Help: "Worker queues created by the dispatcher.",
		}),
		promQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "spider", Name: "worker_queue_depth",
			Help: "Units waiting in each worker queue.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.promFrames, m.promDecode, m.promReconnects, m.promStale, m.promAuth,
			m.promBooks, m.promPublishes, m.promUnitFailures, m.promQueues, m.promQueueDepth,
		)
	}
	return m
}

// RecordFrame records a frame read from the wire.
func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.framesReceived.Add(1)
	m.promFrames.Inc()
}

// RecordDecodeFailure records a dropped frame.
func (m *Metrics) RecordDecodeFailure(kind string) {
	if m == nil {
		return
	}
	m.decodeFailures.Add(1)
	m.promDecode.WithLabelValues(kind).Inc()
}

// RecordReconnect records the end of a connection cycle.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Add(1)
	m.promReconnects.Inc()
}

// RecordStaleKill records a watchdog-forced reconnect.
func (m *Metrics) RecordStaleKill() {
	if m == nil {
		return
	}
	m.staleKills.Add(1)
	m.promStale.Inc()
}

// RecordAuthFailure records a failed login.
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Add(1)
	m.promAuth.Inc()
}

// RecordBook records a snapshot or update applied to a replica.
func (m *Metrics) RecordBook() {
	if m == nil {
		return
	}
	m.booksApplied.Add(1)
	m.promBooks.Inc()
}

// RecordPublish records a payload handed to the sink.
func (m *Metrics) RecordPublish(kind string) {
	if m == nil {
		return
	}
	m.publishes.Add(1)
	m.promPublishes.WithLabelValues(kind).Inc()
}

// RecordUnitFailure records a failed dispatched unit.
func (m *Metrics) RecordUnitFailure() {
	if m == nil {
		return
	}
	m.unitFailures.Add(1)
	m.promUnitFailures.Inc()
}

// SetQueues sets the current worker queue count.
func (m *Metrics) SetQueues(count int) {
	if m == nil {
		return
	}
	m.queues.Store(int32(count))
	m.promQueues.Set(float64(count))
}

// SetQueueDepth sets the backlog of one worker queue.
func (m *Metrics) SetQueueDepth(queue, depth int) {
	if m == nil {
		return
	}
	m.promQueueDepth.WithLabelValues(strconv.Itoa(queue)).Set(float64(depth))
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesReceived uint64
	DecodeFailures uint64
	Reconnects     uint64
	StaleKills     uint64
	AuthFailures   uint64
	BooksApplied   uint64
	Publishes      uint64
	UnitFailures   uint64
	Queues         int32
	Timestamp      time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Timestamp: time.Now()}
	}
	return MetricsSnapshot{
		FramesReceived: m.framesReceived.Load(),
		DecodeFailures: m.decodeFailures.Load(),
		Reconnects:     m.reconnects.Load(),
		StaleKills:     m.staleKills.Load(),
		AuthFailures:   m.authFailures.Load(),
		BooksApplied:   m.booksApplied.Load(),
		Publishes:      m.publishes.Load(),
		UnitFailures:   m.unitFailures.Load(),
		Queues:         m.queues.Load(),
		Timestamp:      time.Now(),
	}
}

// Rate returns per-second rates between two snapshots.
func (s MetricsSnapshot) Rate(prev MetricsSnapshot) (framesPerSec, booksPerSec float64) {
	elapsed := s.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(s.FramesReceived-prev.FramesReceived) / elapsed,
		float64(s.BooksApplied-prev.BooksApplied) / elapsed
}

// Reset clears the atomic counters (for testing).
func (m *Metrics) Reset() {
	m.framesReceived.Store(0)
	m.decodeFailures.Store(0)
	m.reconnects.Store(0)
	m.staleKills.Store(0)
	m.authFailures.Store(0)
	m.booksApplied.Store(0)
	m.publishes.Store(0)
	m.unitFailures.Store(0)
	m.queues.Store(0)
}
