package blkmigrate

import "context"

// BlockDevice is the subset of the block driver abstraction the
// engine needs (spec §6.1). Implementations live outside this module
// in production (the hypervisor's real block layer); internal/blockdev
// provides a concrete one for tests and the cmd/blkmigsim demo.
type BlockDevice interface {
	// Name returns the device's stable name, used on the wire and for
	// lookups on the receiver.
	Name() string

	// Length returns the device's size in bytes.
	Length() int64

	// ReadOnly reports whether the device rejects writes.
	ReadOnly() bool

	// IsAllocated probes whether the sector is backed by storage on a
	// shared-base device, returning the run length (in sectors, capped
	// by maxSearch) of contiguous sectors sharing that allocation
	// state.
	IsAllocated(sector int64, maxSearch int64) (allocated bool, runSectors int64)

	// ReadAt performs a synchronous read of n sectors starting at
	// sector into buf.
	ReadAt(sector int64, buf []byte, n int) error

	// WriteAt performs a synchronous write of n sectors starting at
	// sector from buf. Used by the receiver.
	WriteAt(sector int64, buf []byte, n int) error

	// AsyncReadAt submits an asynchronous read of n sectors starting
	// at sector into buf. completion is invoked exactly once, on the
	// same logical execution context per spec §5, with the result of
	// the read.
	AsyncReadAt(ctx context.Context, sector int64, buf []byte, n int, completion func(err error))

	// Drain blocks until every outstanding AsyncReadAt on this device
	// has invoked its completion. Called from the dirty-phase in-flight
	// check (spec §4.4) and from cleanup (spec §4.9's cancel).
	Drain(ctx context.Context)

	// SetDirtyTracking enables or disables dirty-bit tracking for
	// guest writes to this device.
	SetDirtyTracking(enable bool)

	// DirtyChunk reports whether the chunk containing sector has been
	// written since the last ResetDirty covering it.
	DirtyChunk(sector int64) bool

	// ResetDirty clears the dirty bit for the n sectors starting at
	// sector. Must be atomic with respect to concurrent dirtying by
	// guest writes (spec §5).
	ResetDirty(sector int64, n int)

	// DirtyChunkCount returns the number of chunks currently dirty.
	DirtyChunkCount() int64

	// SetInUse marks or clears the device's "claimed by migration"
	// marker in the block layer.
	SetInUse(inUse bool)
}

// DriveRefTable is the drive-reference table mentioned in spec §6.1:
// acquiring keeps the underlying drive from being closed out from
// under an in-flight migration; releasing drops that hold.
type DriveRefTable interface {
	Acquire(name string) error
	Release(name string)
}

// DeviceRegistry enumerates and looks up block devices (spec §4.2,
// §4.10).
type DeviceRegistry interface {
	// IterateAll calls fn for every registered device, in a
	// deterministic order, until fn returns false or devices are
	// exhausted.
	IterateAll(fn func(BlockDevice) bool)

	// Find looks up a device by name, used by the receiver to resolve
	// DEVICE_BLOCK frames.
	Find(name string) (BlockDevice, bool)
}

// Transport is the byte-stream sink/source the engine and receiver
// read and write frames through (spec §6.1, §6.4).
type Transport interface {
	PutU64BE(word uint64) error
	PutU8(b byte) error
	PutBytes(p []byte) error
	Flush() error

	GetU64BE() (uint64, error)
	GetU8() (byte, error)
	GetBytes(p []byte) error

	// RateLimited reports whether the transport is currently over its
	// rate-limit window and further writes should be deferred.
	RateLimited() bool

	// RateLimitWindowBytes returns the size of the current rate-limit
	// window in bytes.
	RateLimitWindowBytes() int64

	// Err returns the first error encountered by the transport, if
	// any, so callers can distinguish "no data yet" from "broken
	// stream".
	Err() error
}

// Clock is the monotonic clock collaborator (spec §6.1).
type Clock interface {
	MonotonicNanos() int64
}

// MigrationDriver is the outer driver that decides phase transitions
// and owns the downtime budget (spec §6.1). The engine only reads
// MaxDowntimeSeconds from it; the driver itself calls the lifecycle
// hooks on Engine.
type MigrationDriver interface {
	MaxDowntimeSeconds() float64
}

// Logger is the logging interface components accept so callers can
// plug in their own sink at the package boundary.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives metrics events from the engine and receiver.
// Implementations must be safe to call from the single migration
// task's execution context; they are never called concurrently by
// this module, but an Observer spanning multiple devices may be
// shared.
type Observer interface {
	ObserveChunkRead(bytes uint64, latencyNs uint64, zero bool)
	ObserveChunkSent(bytes uint64, zero bool)
	ObserveProgress(percent int)
}
