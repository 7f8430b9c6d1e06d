package blkmigrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsBasic(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Zero(t, snap.ChunksRead)

	m.RecordChunkRead(ChunkBytes, 1_000_000, false, true)
	m.RecordChunkRead(ChunkBytes, 2_000_000, false, true)
	m.RecordChunkRead(0, 500_000, false, false)

	snap = m.Snapshot()
	assert.EqualValues(t, 3, snap.ChunksRead)
	assert.EqualValues(t, 2*ChunkBytes, snap.ChunkReadBytes)
	assert.EqualValues(t, 1, snap.ChunkReadErrors)

	expectedErrorRate := float64(1) / float64(3) * 100.0
	assert.InDelta(t, expectedErrorRate, snap.ErrorRate, 0.1)
}

func TestMetricsChunkSent(t *testing.T) {
	m := NewMetrics()

	m.RecordChunkSent(ChunkBytes, false, false)
	m.RecordChunkSent(0, true, false)
	m.RecordChunkSent(0, true, true)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.ChunksSent)
	assert.EqualValues(t, ChunkBytes, snap.ChunkSentBytes)
	assert.EqualValues(t, 1, snap.ChunksZero)
	assert.EqualValues(t, 1, snap.ChunksElided)
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordChunkRead(ChunkBytes, 1_000_000, false, true)
	m.RecordChunkRead(ChunkBytes, 2_000_000, false, true)

	snap := m.Snapshot()
	assert.EqualValues(t, 1_500_000, snap.AvgReadLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordChunkRead(ChunkBytes, 1_000_000, false, true)
	m.RecordChunkSent(ChunkBytes, false, false)

	snap := m.Snapshot()
	require := assert.New(t)
	require.NotZero(snap.ChunksRead)

	m.Reset()
	snap = m.Snapshot()
	require.Zero(snap.ChunksRead)
	require.Zero(snap.ChunksSent)
}

func TestObserverImplementations(t *testing.T) {
	var noop Observer = NoOpObserver{}
	noop.ObserveChunkRead(ChunkBytes, 1_000_000, false)
	noop.ObserveChunkSent(ChunkBytes, false)
	noop.ObserveProgress(50)

	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveChunkRead(ChunkBytes, 1_000_000, false)
	obs.ObserveChunkSent(ChunkBytes, false)
	obs.ObserveProgress(42)

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.ChunksRead)
	assert.EqualValues(t, 1, snap.ChunksSent)
	assert.EqualValues(t, 42, snap.LastProgressPct)
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordChunkRead(ChunkBytes, 500_000, false, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordChunkRead(ChunkBytes, 5_000_000, false, true)
	}
	m.RecordChunkRead(ChunkBytes, 50_000_000, false, true)

	snap := m.Snapshot()
	assert.EqualValues(t, 100, snap.ChunksRead)
	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))
	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
}
