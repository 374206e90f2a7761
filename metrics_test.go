package httpreactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRequestCountsByClass(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest(200, false, 1_000)
	m.RecordRequest(200, false, 2_000)
	m.RecordRequest(404, false, 3_000)
	m.RecordRequest(400, true, 4_000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.RequestsParsed)
	assert.Equal(t, uint64(1), snap.RequestsMalformed)
	assert.Equal(t, uint64(2), snap.Responses2xx)
	assert.Equal(t, uint64(2), snap.Responses4xx)
}

func TestMetricsAcceptCloseGauge(t *testing.T) {
	m := NewMetrics()
	m.RecordAccept()
	m.RecordAccept()
	m.RecordClose()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.ConnectionsAccepted)
	assert.Equal(t, uint64(1), snap.ConnectionsClosed)
	assert.Equal(t, int64(1), snap.ActiveConnections)
}

func TestMetricsQueueDepthStats(t *testing.T) {
	m := NewMetrics()
	m.RecordQueueDepth(2)
	m.RecordQueueDepth(6)
	m.RecordQueueDepth(4)

	snap := m.Snapshot()
	assert.Equal(t, uint32(6), snap.MaxQueueDepth)
	assert.InDelta(t, 4.0, snap.AvgQueueDepth, 0.001)
}

func TestMetricsLatencyPercentiles(t *testing.T) {
	m := NewMetrics()
	// 100 ops at ~5us, 10 ops at ~5ms: p50 must land in a far lower bucket
	// than p99.
	for i := 0; i < 100; i++ {
		m.RecordRequest(200, false, 5_000)
	}
	for i := 0; i < 10; i++ {
		m.RecordRequest(200, false, 5_000_000)
	}

	snap := m.Snapshot()
	require.NotZero(t, snap.LatencyP50Ns)
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(10_000))
	assert.Greater(t, snap.LatencyP99Ns, snap.LatencyP50Ns)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordAccept()
	m.RecordRequest(200, false, 1_000)
	m.Reset()

	snap := m.Snapshot()
	assert.Zero(t, snap.ConnectionsAccepted)
	assert.Zero(t, snap.RequestsParsed)
	assert.Zero(t, snap.Responses2xx)
}

func TestMetricsObserverForwards(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveAccept()
	o.ObserveRequest(200, false)
	o.ObserveTimerExpiry()
	o.ObserveQueueDepth(3)
	o.ObserveClose()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.ConnectionsAccepted)
	assert.Equal(t, uint64(1), snap.RequestsParsed)
	assert.Equal(t, uint64(1), snap.TimerExpirations)
	assert.Equal(t, uint32(3), snap.MaxQueueDepth)
	assert.Equal(t, int64(0), snap.ActiveConnections)
}
