package httpreactor

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/httpreactor/internal/interfaces"
)

// LatencyBuckets defines the request-processing latency histogram buckets
// in nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the reactor.
type Metrics struct {
	ConnectionsAccepted atomic.Uint64
	ConnectionsClosed   atomic.Uint64
	ActiveConnections   atomic.Int64

	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64

	RequestsParsed    atomic.Uint64
	RequestsMalformed atomic.Uint64
	Responses2xx      atomic.Uint64
	Responses4xx      atomic.Uint64

	TimerExpirations atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance, starting its uptime clock.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAccept records a newly accepted connection.
func (m *Metrics) RecordAccept() {
	m.ConnectionsAccepted.Add(1)
	m.ActiveConnections.Add(1)
}

// RecordClose records a connection closing.
func (m *Metrics) RecordClose() {
	m.ConnectionsClosed.Add(1)
	m.ActiveConnections.Add(-1)
}

// RecordRequest records one parsed request, its resulting status code
// class, and how long processing took.
func (m *Metrics) RecordRequest(statusCode int, malformed bool, latencyNs uint64) {
	m.RequestsParsed.Add(1)
	if malformed {
		m.RequestsMalformed.Add(1)
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		m.Responses2xx.Add(1)
	case statusCode >= 400 && statusCode < 500:
		m.Responses4xx.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordTimerExpiry records an idle-timeout firing.
func (m *Metrics) RecordTimerExpiry() {
	m.TimerExpirations.Add(1)
}

// RecordQueueDepth records the worker pool's current backlog for
// statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// AddBytesRead/AddBytesWritten accumulate transfer totals.
func (m *Metrics) AddBytesRead(n uint64)    { m.BytesRead.Add(n) }
func (m *Metrics) AddBytesWritten(n uint64) { m.BytesWritten.Add(n) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the reactor as stopped, freezing the uptime calculation.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics suitable
// for logging or exposing over an admin endpoint.
type MetricsSnapshot struct {
	ConnectionsAccepted uint64
	ConnectionsClosed   uint64
	ActiveConnections   int64

	BytesRead    uint64
	BytesWritten uint64

	RequestsParsed    uint64
	RequestsMalformed uint64
	Responses2xx      uint64
	Responses4xx      uint64

	TimerExpirations uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ConnectionsAccepted: m.ConnectionsAccepted.Load(),
		ConnectionsClosed:   m.ConnectionsClosed.Load(),
		ActiveConnections:   m.ActiveConnections.Load(),
		BytesRead:           m.BytesRead.Load(),
		BytesWritten:        m.BytesWritten.Load(),
		RequestsParsed:      m.RequestsParsed.Load(),
		RequestsMalformed:   m.RequestsMalformed.Load(),
		Responses2xx:        m.Responses2xx.Load(),
		Responses4xx:        m.Responses4xx.Load(),
		TimerExpirations:    m.TimerExpirations.Load(),
		MaxQueueDepth:       m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.ConnectionsAccepted.Store(0)
	m.ConnectionsClosed.Store(0)
	m.ActiveConnections.Store(0)
	m.BytesRead.Store(0)
	m.BytesWritten.Store(0)
	m.RequestsParsed.Store(0)
	m.RequestsMalformed.Store(0)
	m.Responses2xx.Store(0)
	m.Responses4xx.Store(0)
	m.TimerExpirations.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer by recording into a
// *Metrics. It is the Observer New wires up by default;
// internal components depend only on interfaces.Observer.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given
// metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAccept() { o.metrics.RecordAccept() }
func (o *MetricsObserver) ObserveClose()  { o.metrics.RecordClose() }

func (o *MetricsObserver) ObserveRequest(statusCode int, malformed bool) {
	o.metrics.RecordRequest(statusCode, malformed, 0)
}

func (o *MetricsObserver) ObserveTimerExpiry() { o.metrics.RecordTimerExpiry() }

func (o *MetricsObserver) ObserveQueueDepth(depth int) {
	o.metrics.RecordQueueDepth(uint32(depth))
}

var _ interfaces.Observer = (*MetricsObserver)(nil)

// NoOpObserver discards every observation. New and NewWithAuthenticator
// default to a MetricsObserver, not to this type, when no Observer is
// configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAccept()                          {}
func (NoOpObserver) ObserveClose()                           {}
func (NoOpObserver) ObserveRequest(statusCode int, bad bool) {}
func (NoOpObserver) ObserveTimerExpiry()                     {}
func (NoOpObserver) ObserveQueueDepth(depth int)             {}

var _ interfaces.Observer = (*NoOpObserver)(nil)
