package blkmigrate

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the read-latency histogram buckets in
// nanoseconds, log-spaced from 1us to 10s. The histogram is kept
// on the read path only; there is no write-side histogram since the
// receiver applies writes off the wire, not under a downtime budget.
// The engine's convergence test does not read these metrics; it keeps
// its own read-time counters.
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

// Metrics tracks the counters the engine and receiver accumulate over
// one migration: chunks read from the source device, chunks actually
// put on the wire (fewer than chunks read whenever zero-block elision
// fires), and the cumulative progress reported to the far end.
type Metrics struct {
	ChunksRead      atomic.Uint64
	ChunkReadBytes  atomic.Uint64
	ChunkReadErrors atomic.Uint64

	ChunksSent       atomic.Uint64
	ChunkSentBytes   atomic.Uint64
	ChunksZero       atomic.Uint64 // sent as ZERO_BLOCK (no payload)
	ChunksElided     atomic.Uint64 // not sent at all (sparse+bulk zero)
	ProgressUpdates  atomic.Uint64
	LastProgressPct  atomic.Int64

	TotalReadLatencyNs atomic.Uint64
	ReadOpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a zeroed Metrics with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordChunkRead records one source-device read of bytes at latencyNs,
// zero indicating the chunk was found to be all-zero.
func (m *Metrics) RecordChunkRead(bytes uint64, latencyNs uint64, zero bool, success bool) {
	m.ChunksRead.Add(1)
	if success {
		m.ChunkReadBytes.Add(bytes)
	} else {
		m.ChunkReadErrors.Add(1)
	}
	m.recordReadLatency(latencyNs)
}

// RecordChunkSent records one chunk handed to the transport: zero
// means it went out as a ZERO_BLOCK frame with no payload; elided
// means it was dropped entirely under sparse+bulk elision and never
// reached the wire at all.
func (m *Metrics) RecordChunkSent(bytes uint64, zero bool, elided bool) {
	if elided {
		m.ChunksElided.Add(1)
		return
	}
	m.ChunksSent.Add(1)
	if zero {
		m.ChunksZero.Add(1)
	} else {
		m.ChunkSentBytes.Add(bytes)
	}
}

// RecordProgress records one PROGRESS frame's percentage.
func (m *Metrics) RecordProgress(percent int) {
	m.ProgressUpdates.Add(1)
	m.LastProgressPct.Store(int64(percent))
}

func (m *Metrics) recordReadLatency(latencyNs uint64) {
	m.TotalReadLatencyNs.Add(latencyNs)
	m.ReadOpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the migration as finished for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics, with derived
// rates computed against elapsed uptime.
type MetricsSnapshot struct {
	ChunksRead      uint64
	ChunkReadBytes  uint64
	ChunkReadErrors uint64

	ChunksSent      uint64
	ChunkSentBytes  uint64
	ChunksZero      uint64
	ChunksElided    uint64
	ProgressUpdates uint64
	LastProgressPct int64

	AvgReadLatencyNs uint64
	LatencyP50Ns     uint64
	LatencyP99Ns     uint64
	LatencyHistogram [numLatencyBuckets]uint64

	ReadThroughputBps float64 // bytes read successfully divided by uptime
	UptimeNs          uint64
	ErrorRate         float64
}

// Snapshot computes a MetricsSnapshot, including an estimated read
// throughput over the metrics' uptime.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ChunksRead:      m.ChunksRead.Load(),
		ChunkReadBytes:  m.ChunkReadBytes.Load(),
		ChunkReadErrors: m.ChunkReadErrors.Load(),
		ChunksSent:      m.ChunksSent.Load(),
		ChunkSentBytes:  m.ChunkSentBytes.Load(),
		ChunksZero:      m.ChunksZero.Load(),
		ChunksElided:    m.ChunksElided.Load(),
		ProgressUpdates: m.ProgressUpdates.Load(),
		LastProgressPct: m.LastProgressPct.Load(),
	}

	opCount := m.ReadOpCount.Load()
	if opCount > 0 {
		snap.AvgReadLatencyNs = m.TotalReadLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadThroughputBps = float64(snap.ChunkReadBytes) / uptimeSeconds
	}

	if snap.ChunksRead > 0 {
		snap.ErrorRate = float64(snap.ChunkReadErrors) / float64(snap.ChunksRead) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.ReadOpCount.Load()
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

// Reset zeroes all counters and restarts the uptime clock.
func (m *Metrics) Reset() {
	m.ChunksRead.Store(0)
	m.ChunkReadBytes.Store(0)
	m.ChunkReadErrors.Store(0)
	m.ChunksSent.Store(0)
	m.ChunkSentBytes.Store(0)
	m.ChunksZero.Store(0)
	m.ChunksElided.Store(0)
	m.ProgressUpdates.Store(0)
	m.LastProgressPct.Store(0)
	m.TotalReadLatencyNs.Store(0)
	m.ReadOpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver discards every event; the default when no Observer is
// configured (spec §6.1's Options.Observer is optional).
type NoOpObserver struct{}

func (NoOpObserver) ObserveChunkRead(uint64, uint64, bool) {}
func (NoOpObserver) ObserveChunkSent(uint64, bool)         {}
func (NoOpObserver) ObserveProgress(int)                   {}

// MetricsObserver implements Observer by forwarding events into a
// Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveChunkRead(bytes uint64, latencyNs uint64, zero bool) {
	o.metrics.RecordChunkRead(bytes, latencyNs, zero, true)
}

func (o *MetricsObserver) ObserveChunkSent(bytes uint64, zero bool) {
	o.metrics.RecordChunkSent(bytes, zero, false)
}

func (o *MetricsObserver) ObserveProgress(percent int) {
	o.metrics.RecordProgress(percent)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
