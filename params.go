package blkmigrate

// MigrationParams is the parameter surface the migration driver sets
// before setup (spec §6.3). Shared and Sparse both imply Blk.
type MigrationParams struct {
	Blk    bool
	Shared bool
	Sparse bool

	MaxDowntimeSeconds   float64
	RateLimitWindowBytes int64
}

// DefaultParams returns a MigrationParams with block migration enabled
// and conservative defaults for everything else.
func DefaultParams() MigrationParams {
	return MigrationParams{
		Blk:                  true,
		MaxDowntimeSeconds:   DefaultMaxDowntimeSeconds,
		RateLimitWindowBytes: DefaultRateLimitWindowBytes,
	}
}

// blkEnableBits folds Blk/Shared/Sparse into a single bitmask the way
// the reference ORs bits into blk_enable (spec §9): any of the three
// being set yields a nonzero mask, and IsActive tests the mask against
// zero rather than against a single flag value.
func (p MigrationParams) blkEnableBits() uint8 {
	var bits uint8
	if p.Blk {
		bits |= 0x1
	}
	if p.Shared {
		bits |= 0x2
	}
	if p.Sparse {
		bits |= 0x4
	}
	return bits
}

// Options bundles the engine's external collaborators (spec §6.1).
type Options struct {
	Devices  DeviceRegistry
	RefTable DriveRefTable
	Sink     Transport
	Clock    Clock
	Driver   MigrationDriver
	Logger   Logger
	Observer Observer
}
