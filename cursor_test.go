package blkmigrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDeviceCursor(t *testing.T) {
	dev := NewMockBlockDevice("vda", 8*ChunkBytes)
	c := newDeviceCursor(dev, false, false)

	assert.Equal(t, "vda", c.Name())
	assert.Equal(t, int64(8*SectorsPerChunk), c.TotalSectors())
	assert.Equal(t, int64(0), c.CompletedSectors())
	assert.False(t, c.BulkCompleted())
	assert.False(t, c.exhaustedForBulk())
}

func TestDeviceCursorExhaustedForBulk(t *testing.T) {
	dev := NewMockBlockDevice("vda", ChunkBytes)
	c := newDeviceCursor(dev, false, false)

	assert.False(t, c.exhaustedForBulk())
	c.bulkCursor = c.totalSectors
	assert.True(t, c.exhaustedForBulk())
}

func TestDeviceCursorResetDirtyCursor(t *testing.T) {
	dev := NewMockBlockDevice("vda", ChunkBytes)
	c := newDeviceCursor(dev, false, false)
	c.dirtyCursor = SectorsPerChunk

	c.resetDirtyCursor()
	assert.Equal(t, int64(0), c.dirtyCursor)
}

func TestDeviceCursorDirtyChunksRemainingDelegatesToDevice(t *testing.T) {
	dev := NewMockBlockDevice("vda", 2*ChunkBytes)
	dev.SetDirtyTracking(true)
	c := newDeviceCursor(dev, false, false)

	assert.Equal(t, int64(0), c.DirtyChunksRemaining())

	buf := make([]byte, ChunkBytes)
	assert.NoError(t, dev.SimulateGuestWrite(0, buf, SectorsPerChunk))
	assert.Equal(t, int64(1), c.DirtyChunksRemaining())
}
