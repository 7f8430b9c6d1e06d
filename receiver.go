package blkmigrate

import "github.com/mendersoftware/progressbar"

// Receiver decodes a migration stream and applies writes to local
// block devices, honoring the zero-block optimization (spec §4.10).
type Receiver struct {
	codec    *WireCodec
	registry DeviceRegistry
	logger   Logger

	scratch      []byte
	priorWasZero bool

	lastDeviceName string
	lastTotal      int64

	bar         *progressbar.Bar
	lastPercent int
}

// NewReceiver constructs a Receiver reading frames through transport
// and applying DEVICE_BLOCK writes against the devices in registry.
func NewReceiver(transport Transport, registry DeviceRegistry, logger Logger) *Receiver {
	return &Receiver{
		codec:    newWireCodec(transport),
		registry: registry,
		logger:   logger,
		scratch:  make([]byte, ChunkBytes),
		bar:      progressbar.New(100),
	}
}

// Run decodes frames until an EOS marker is seen, or an error occurs.
// Errors are not retried: the receiver aborts on first error and
// attempts no partial-frame recovery (spec §7).
func (r *Receiver) Run() error {
	for {
		frame, err := r.codec.DecodeFrame(r.scratch, r.priorWasZero)
		if err != nil {
			return err
		}

		switch {
		case frame.Flags&flagEOS != 0:
			return nil

		case frame.Flags&flagDeviceBlock != 0:
			if err := r.applyDeviceBlock(frame); err != nil {
				return err
			}
			r.priorWasZero = frame.Zero

		case frame.Flags&flagProgress != 0:
			r.renderProgress(frame.Percent)
			r.priorWasZero = false

		default:
			return NewError("receiver_run", ErrCodeUnknownFlags, "frame carried no recognized flag")
		}
	}
}

func (r *Receiver) applyDeviceBlock(frame DecodedFrame) error {
	if frame.DeviceName != r.lastDeviceName {
		dev, ok := r.registry.Find(frame.DeviceName)
		if !ok {
			return NewDeviceError("receiver_apply", frame.DeviceName, ErrCodeUnknownDevice, "unknown device")
		}
		r.lastDeviceName = frame.DeviceName
		r.lastTotal = dev.Length() / SectorSize
	}

	dev, ok := r.registry.Find(frame.DeviceName)
	if !ok {
		return NewDeviceError("receiver_apply", frame.DeviceName, ErrCodeUnknownDevice, "unknown device")
	}

	sectorCount := SectorsPerChunk
	if remaining := r.lastTotal - frame.Sector; remaining < int64(sectorCount) {
		sectorCount = int(remaining)
	}
	if sectorCount <= 0 {
		return nil
	}

	if err := dev.WriteAt(frame.Sector, frame.Payload, sectorCount); err != nil {
		return WrapError("receiver_apply", err)
	}
	return nil
}

func (r *Receiver) renderProgress(percent int) {
	if percent < r.lastPercent {
		percent = r.lastPercent
	}
	if percent > 100 {
		percent = 100
	}
	delta := percent - r.lastPercent
	if delta > 0 {
		r.bar.Tick(int64(delta))
		r.lastPercent = percent
	}
	if r.logger != nil {
		r.logger.Printf("migration progress: %d%%", percent)
	}
}
