package blkmigrate

// PendingRead is a completed (or about-to-be-read) chunk awaiting
// transmission (spec §3). It holds a non-owning back-reference to its
// owning DeviceCursor: the cursor outlives its PendingReads during
// normal operation, and cleanup must drain PendingReads before
// dropping cursors (spec §9).
//
// Per the Open-Question decision in SPEC_FULL.md §6.2, PendingRead
// values are always fully initialized — cursor, sector, count, and a
// zeroed buffer — at allocation time, before the read is issued, so
// an error on the very first read never observes a half-built value.
type PendingRead struct {
	cursor *DeviceCursor
	sector int64
	count  int // sector_count, <= SectorsPerChunk
	buf    []byte
	err    error

	// bulk records whether this chunk was read during the bulk phase,
	// captured at submission time rather than re-derived from the
	// cursor's live bulkCompleted flag at send time: an inline-
	// completing AsyncReadAt (MockBlockDevice, Memory, io_uring under
	// light load) can push this read onto the send queue before its
	// cursor's bulkCompleted flips for the device's last bulk chunk,
	// which would otherwise make sparse+bulk zero-elision miss it.
	bulk bool
}

// newPendingRead allocates a fully-initialized PendingRead for a
// chunk starting at sector covering count sectors (count may be
// shorter than SectorsPerChunk for the final tail, per spec §4.3's
// short-tail handling). bulk records which phase issued this read.
func newPendingRead(cursor *DeviceCursor, sector int64, count int, bulk bool) *PendingRead {
	return &PendingRead{
		cursor: cursor,
		sector: sector,
		count:  count,
		buf:    make([]byte, ChunkBytes),
		bulk:   bulk,
	}
}

// PendingQueue is a FIFO of completed read buffers awaiting send; it
// protects the ordering in which chunks are transmitted (spec §3).
type PendingQueue struct {
	items []*PendingRead
}

func newPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push appends a completed read to the tail of the queue.
func (q *PendingQueue) Push(r *PendingRead) {
	q.items = append(q.items, r)
}

// Pop removes and returns the head of the queue, or nil if empty.
func (q *PendingQueue) Pop() *PendingRead {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

// Len returns the number of queued reads.
func (q *PendingQueue) Len() int {
	return len(q.items)
}
