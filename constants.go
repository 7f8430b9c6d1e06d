// Package blkmigrate implements the sender-side state machine and
// receiver-side applier for live block-device migration: a two-phase
// (bulk copy + dirty re-copy) streaming algorithm that converges the
// remote copy of one or more writable block devices to the local copy
// within an operator-configured downtime budget.
package blkmigrate

// SectorBits is log2(sector size). A sector is the block device's
// addressing unit.
const SectorBits = 9 // 512-byte sectors

// SectorSize is the block device's addressing unit in bytes.
const SectorSize = 1 << SectorBits

// SectorsPerChunk is the transfer/dirty-tracking granularity, in
// sectors. Must be a power of two.
const SectorsPerChunk = 256 // 128 KiB chunks at 512-byte sectors

// ChunkBytes is the transfer granularity in bytes.
const ChunkBytes = SectorsPerChunk << SectorBits

// maxAllocationSearchSectors bounds the is_allocated probe used to
// skip unallocated runs during the bulk phase of a shared-base device.
// Bounded by the chunk size times a small constant.
const maxAllocationSearchSectors = 65536

// Wire flag bits, OR'd into the low bits of a 64-bit header word
// alongside a byte-aligned address.
const (
	flagDeviceBlock uint64 = 0x01
	flagEOS         uint64 = 0x02
	flagProgress    uint64 = 0x04
	flagZeroBlock   uint64 = 0x08

	flagMask = flagDeviceBlock | flagEOS | flagProgress | flagZeroBlock
)

// headerAddrShift is the number of low bits reserved for flags; the
// sector (or, on a progress frame, the percentage) sits above them. It
// must be at least SectorBits since the address is byte-aligned
// sector<<SectorBits.
const headerAddrShift = SectorBits

// DefaultRateLimitWindowBytes is used by DefaultParams when no
// explicit window is supplied.
const DefaultRateLimitWindowBytes = 64 << 20 // 64 MiB per window

// DefaultMaxDowntimeSeconds is a conservative default downtime budget.
const DefaultMaxDowntimeSeconds = 0.3
