package blockdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkmig/blkmigrate"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := NewMemory("vda", 2*blkmigrate.ChunkBytes)

	buf := make([]byte, blkmigrate.ChunkBytes)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, m.WriteAt(0, buf, blkmigrate.SectorsPerChunk))

	got := make([]byte, blkmigrate.ChunkBytes)
	require.NoError(t, m.ReadAt(0, got, blkmigrate.SectorsPerChunk))
	assert.Equal(t, buf, got)
}

func TestMemoryWriteBeyondEndErrors(t *testing.T) {
	m := NewMemory("vda", blkmigrate.ChunkBytes)
	buf := make([]byte, blkmigrate.ChunkBytes)
	err := m.WriteAt(blkmigrate.SectorsPerChunk, buf, blkmigrate.SectorsPerChunk)
	assert.Error(t, err)
}

func TestMemoryReadOnlyRejectsWrites(t *testing.T) {
	m := NewMemory("vda", blkmigrate.ChunkBytes)
	m.readOnly = true
	err := m.WriteAt(0, make([]byte, blkmigrate.ChunkBytes), blkmigrate.SectorsPerChunk)
	assert.Error(t, err)
}

func TestMemoryAsyncReadAtCompletesInline(t *testing.T) {
	m := NewMemory("vda", blkmigrate.ChunkBytes)
	buf := make([]byte, blkmigrate.ChunkBytes)
	for i := range buf {
		buf[i] = 0x42
	}
	require.NoError(t, m.WriteAt(0, buf, blkmigrate.SectorsPerChunk))

	out := make([]byte, blkmigrate.ChunkBytes)
	var called bool
	m.AsyncReadAt(context.Background(), 0, out, blkmigrate.SectorsPerChunk, func(err error) {
		called = true
		assert.NoError(t, err)
	})
	assert.True(t, called, "completion must fire before AsyncReadAt returns")
	assert.Equal(t, buf, out)
}

func TestMemoryDirtyTracking(t *testing.T) {
	m := NewMemory("vda", 2*blkmigrate.ChunkBytes)
	m.SetDirtyTracking(true)

	assert.False(t, m.DirtyChunk(0))
	require.NoError(t, m.SimulateGuestWrite(0, make([]byte, blkmigrate.ChunkBytes), blkmigrate.SectorsPerChunk))
	assert.True(t, m.DirtyChunk(0))
	assert.Equal(t, int64(1), m.DirtyChunkCount())

	m.ResetDirty(0, blkmigrate.SectorsPerChunk)
	assert.False(t, m.DirtyChunk(0))
}

func TestMemorySimulateGuestWriteNoOpWhenTrackingDisabled(t *testing.T) {
	m := NewMemory("vda", blkmigrate.ChunkBytes)
	require.NoError(t, m.SimulateGuestWrite(0, make([]byte, blkmigrate.ChunkBytes), blkmigrate.SectorsPerChunk))
	assert.False(t, m.DirtyChunk(0))
}

func TestMemoryIsAllocatedAlwaysTrue(t *testing.T) {
	m := NewMemory("vda", 4*blkmigrate.ChunkBytes)
	allocated, run := m.IsAllocated(0, 1000)
	assert.True(t, allocated)
	// The device has 4*SectorsPerChunk = 1024 sectors; the run is capped
	// at maxSearch.
	assert.Equal(t, int64(1000), run)
}

func TestMemoryDrainIsNoOp(t *testing.T) {
	m := NewMemory("vda", blkmigrate.ChunkBytes)
	m.Drain(context.Background())
}
