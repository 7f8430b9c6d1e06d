package blkmigrate

// ChunkBitmap is a packed bit array keyed by chunk index, sized to
// ceil(totalSectors/SectorsPerChunk) bits and rounded up to the
// storage word size (spec §4.1). It tracks "read in flight for this
// chunk" on the sender, and is reused as the dirty-bit store of the
// block devices in this module (MockBlockDevice and internal/blockdev).
type ChunkBitmap struct {
	bits        []uint64
	totalChunks int64
}

// NewChunkBitmap allocates a bitmap covering totalSectors, all zero.
func NewChunkBitmap(totalSectors int64) *ChunkBitmap {
	chunks := chunkCount(totalSectors)
	words := (chunks + 63) / 64
	if words == 0 {
		words = 1
	}
	return &ChunkBitmap{
		bits:        make([]uint64, words),
		totalChunks: chunks,
	}
}

func chunkCount(totalSectors int64) int64 {
	return (totalSectors + SectorsPerChunk - 1) / SectorsPerChunk
}

func chunkOf(sector int64) int64 {
	return sector / SectorsPerChunk
}

// Set sets or clears every chunk touched by the half-open sector
// range [sector, sector+n).
func (b *ChunkBitmap) Set(sector int64, n int64, value bool) {
	if n <= 0 {
		return
	}
	first := chunkOf(sector)
	last := chunkOf(sector + n - 1)
	for c := first; c <= last; c++ {
		b.setChunk(c, value)
	}
}

func (b *ChunkBitmap) setChunk(chunk int64, value bool) {
	if chunk < 0 || chunk >= b.totalChunks {
		return
	}
	word, bit := chunk/64, uint(chunk%64)
	if value {
		b.bits[word] |= 1 << bit
	} else {
		b.bits[word] &^= 1 << bit
	}
}

// Test returns whether the chunk containing sector is set. Returns
// false if the sector lies beyond the bitmap's coverage.
func (b *ChunkBitmap) Test(sector int64) bool {
	chunk := chunkOf(sector)
	if chunk < 0 || chunk >= b.totalChunks {
		return false
	}
	word, bit := chunk/64, uint(chunk%64)
	return b.bits[word]&(1<<bit) != 0
}

// Count returns the number of set chunks.
func (b *ChunkBitmap) Count() int64 {
	var n int64
	for _, w := range b.bits {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

// TotalChunks returns the bitmap's chunk capacity.
func (b *ChunkBitmap) TotalChunks() int64 {
	return b.totalChunks
}
