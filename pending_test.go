package blkmigrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPendingRead(t *testing.T) {
	dev := NewMockBlockDevice("vda", ChunkBytes)
	c := newDeviceCursor(dev, false, false)

	pr := newPendingRead(c, 0, SectorsPerChunk, true)
	assert.Equal(t, c, pr.cursor)
	assert.Equal(t, int64(0), pr.sector)
	assert.Equal(t, SectorsPerChunk, pr.count)
	assert.Len(t, pr.buf, ChunkBytes)
	assert.NoError(t, pr.err)
	assert.True(t, pr.bulk)
}

func TestPendingQueueFIFOOrder(t *testing.T) {
	q := newPendingQueue()
	dev := NewMockBlockDevice("vda", 4*ChunkBytes)
	c := newDeviceCursor(dev, false, false)

	a := newPendingRead(c, 0, SectorsPerChunk, true)
	b := newPendingRead(c, SectorsPerChunk, SectorsPerChunk, false)
	q.Push(a)
	q.Push(b)

	assert.Equal(t, 2, q.Len())
	assert.Same(t, a, q.Pop())
	assert.Same(t, b, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestPendingQueuePopEmptyReturnsNil(t *testing.T) {
	q := newPendingQueue()
	assert.Nil(t, q.Pop())
}
