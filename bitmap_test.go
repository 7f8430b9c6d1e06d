package blkmigrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkBitmapSetAndTest(t *testing.T) {
	b := NewChunkBitmap(4 * SectorsPerChunk)

	assert.False(t, b.Test(0))
	assert.Equal(t, int64(0), b.Count())

	b.Set(0, SectorsPerChunk, true)
	assert.True(t, b.Test(0))
	assert.True(t, b.Test(SectorsPerChunk-1))
	assert.False(t, b.Test(SectorsPerChunk))
	assert.Equal(t, int64(1), b.Count())
}

func TestChunkBitmapSetClearsRange(t *testing.T) {
	b := NewChunkBitmap(4 * SectorsPerChunk)
	b.Set(0, 4*SectorsPerChunk, true)
	assert.Equal(t, int64(4), b.Count())

	b.Set(SectorsPerChunk, SectorsPerChunk, false)
	assert.True(t, b.Test(0))
	assert.False(t, b.Test(SectorsPerChunk))
	assert.True(t, b.Test(2*SectorsPerChunk))
	assert.Equal(t, int64(3), b.Count())
}

func TestChunkBitmapSpansMultipleChunksFromUnalignedStart(t *testing.T) {
	b := NewChunkBitmap(4 * SectorsPerChunk)
	// A run starting mid-chunk-0 and ending mid-chunk-2 must mark all
	// three chunks it touches.
	b.Set(SectorsPerChunk/2, SectorsPerChunk*2, true)

	assert.True(t, b.Test(0))
	assert.True(t, b.Test(SectorsPerChunk))
	assert.True(t, b.Test(2 * SectorsPerChunk))
	assert.False(t, b.Test(3 * SectorsPerChunk))
}

func TestChunkBitmapOutOfRangeIsNoop(t *testing.T) {
	b := NewChunkBitmap(SectorsPerChunk)
	b.Set(SectorsPerChunk*10, SectorsPerChunk, true)
	assert.Equal(t, int64(0), b.Count())
	assert.False(t, b.Test(SectorsPerChunk * 10))
}

func TestChunkBitmapZeroLengthRangeIsNoop(t *testing.T) {
	b := NewChunkBitmap(SectorsPerChunk)
	b.Set(0, 0, true)
	assert.Equal(t, int64(0), b.Count())
}

func TestChunkBitmapTotalChunksRoundsUp(t *testing.T) {
	b := NewChunkBitmap(SectorsPerChunk + 1)
	assert.Equal(t, int64(2), b.TotalChunks())
}

func TestChunkBitmapZeroSectorsStillAllocatesOneWord(t *testing.T) {
	b := NewChunkBitmap(0)
	assert.Len(t, b.bits, 1)
	assert.Equal(t, int64(0), b.TotalChunks())
	assert.False(t, b.Test(0))
}
