package blkmigrate

// DeviceCursor holds the per-device migration state: the underlying
// block device handle, total sector count, bulk/dirty scan cursors,
// completed-sector counter, and the flags and bitmap described in
// spec §3.
//
// Invariants (spec §3): bulkCursor <= totalSectors; once
// bulkCompleted, bulkCursor == totalSectors; completedSectors is
// non-decreasing; a chunk's in-flight bit is set exactly between
// submission and completion of its async read.
type DeviceCursor struct {
	device BlockDevice
	name   string

	totalSectors int64

	bulkCursor  int64
	dirtyCursor int64

	completedSectors int64

	bulkCompleted bool
	sharedBase    bool
	sparseEnable  bool

	inFlight *ChunkBitmap
}

// newDeviceCursor constructs a DeviceCursor for a device accepted
// during enumeration (spec §4.2): not read-only, positive length.
func newDeviceCursor(dev BlockDevice, shared, sparse bool) *DeviceCursor {
	total := dev.Length() / SectorSize
	return &DeviceCursor{
		device:       dev,
		name:         dev.Name(),
		totalSectors: total,
		sharedBase:   shared,
		sparseEnable: sparse,
		inFlight:     NewChunkBitmap(total),
	}
}

// Name returns the underlying device's name.
func (c *DeviceCursor) Name() string { return c.name }

// TotalSectors returns the device's total sector count.
func (c *DeviceCursor) TotalSectors() int64 { return c.totalSectors }

// CompletedSectors returns the monotonic completed-sector counter
// used for progress estimation.
func (c *DeviceCursor) CompletedSectors() int64 { return c.completedSectors }

// BulkCompleted reports whether the bulk phase has finished for this
// device.
func (c *DeviceCursor) BulkCompleted() bool { return c.bulkCompleted }

// DirtyChunksRemaining reports how many chunks are currently dirty on
// the underlying device, used by the convergence test (spec §4.8).
func (c *DeviceCursor) DirtyChunksRemaining() int64 {
	return c.device.DirtyChunkCount()
}

func (c *DeviceCursor) resetDirtyCursor() {
	c.dirtyCursor = 0
}

func (c *DeviceCursor) exhaustedForBulk() bool {
	return c.bulkCursor >= c.totalSectors
}
