package blkmigrate

import (
	"bytes"
)

// WireCodec encodes and decodes the frames of spec §4.7: device-block
// frames (with optional zero-block elision), progress frames, and the
// end-of-stream marker. There is no frame sequence number and no
// checksum (spec §6.4) — ordering and reliability are the transport's
// job.
type WireCodec struct {
	transport Transport
}

func newWireCodec(t Transport) *WireCodec {
	return &WireCodec{transport: t}
}

// packHeader folds a sector number (or, for progress frames, a
// percentage) and flag bits into the single 64-bit header word. The
// value is shifted left by headerAddrShift, so a sector becomes its
// byte address.
func packHeader(addrOrPercent uint64, flags uint64) uint64 {
	return (addrOrPercent << headerAddrShift) | flags
}

func unpackHeader(word uint64) (addrOrPercent uint64, flags uint64) {
	flags = word & flagMask
	addrOrPercent = word >> headerAddrShift
	return
}

// isZeroBuffer tests the whole ChunkBytes buffer for equality with
// zero. A production build would use a wide-register vectorized
// compare since this runs on every chunk on the hot path (spec §4.7);
// bytes.Equal against a (possibly cached) zero buffer gives the same
// semantics with the stdlib's own assembly-optimized comparison.
func isZeroBuffer(buf []byte) bool {
	return bytes.Equal(buf, zeroChunk)
}

var zeroChunk = make([]byte, ChunkBytes)

// EncodeDeviceBlock writes a device-block frame for the chunk starting
// at sector on device, covering n sectors out of the ChunkBytes-sized
// buf. If sparse is true and bulk is true and the buffer is all zero,
// the frame is elided entirely (spec §4.7) and elided is returned as
// true. Otherwise an all-zero buffer sets ZERO_BLOCK and omits the
// payload, flushing the transport immediately afterward to avoid long
// zero runs stalling behind the rate limiter.
func (w *WireCodec) EncodeDeviceBlock(deviceName string, sector int64, n int, buf []byte, sparse, bulk bool) (elided bool, err error) {
	zero := isZeroBuffer(buf)

	if zero && sparse && bulk {
		return true, nil
	}

	flags := flagDeviceBlock
	if zero {
		flags |= flagZeroBlock
	}

	header := packHeader(uint64(sector), flags)
	if err := w.transport.PutU64BE(header); err != nil {
		return false, WrapError("wire_encode", err)
	}

	if len(deviceName) > 255 {
		return false, NewError("wire_encode", ErrCodeInvalidParameters, "device name too long")
	}
	if err := w.transport.PutU8(byte(len(deviceName))); err != nil {
		return false, WrapError("wire_encode", err)
	}
	if err := w.transport.PutBytes([]byte(deviceName)); err != nil {
		return false, WrapError("wire_encode", err)
	}

	if !zero {
		if err := w.transport.PutBytes(buf[:ChunkBytes]); err != nil {
			return false, WrapError("wire_encode", err)
		}
		return false, nil
	}

	// All-zero, non-elided: no payload, but flush so long runs of
	// headerless zero frames don't stall behind the rate limiter.
	if err := w.transport.Flush(); err != nil {
		return false, WrapError("wire_encode", err)
	}
	return false, nil
}

// EncodeProgress writes a progress frame carrying percent (0-100) in
// the header's high bits (spec §4.7, §4.9's 100% terminal frame).
func (w *WireCodec) EncodeProgress(percent int) error {
	header := packHeader(uint64(percent), flagProgress)
	if err := w.transport.PutU64BE(header); err != nil {
		return WrapError("wire_encode", err)
	}
	return nil
}

// EncodeEOS writes the end-of-stream marker.
func (w *WireCodec) EncodeEOS() error {
	header := packHeader(0, flagEOS)
	if err := w.transport.PutU64BE(header); err != nil {
		return WrapError("wire_encode", err)
	}
	return nil
}

// DecodedFrame is the result of decoding one header and, for
// device-block frames, its device name and payload.
type DecodedFrame struct {
	Flags      uint64
	Sector     int64 // valid when Flags&flagDeviceBlock != 0
	Percent    int   // valid when Flags&flagProgress != 0
	DeviceName string
	Payload    []byte // ChunkBytes-sized scratch buffer, set for every DeviceBlock frame (zeroed for a ZeroBlock frame unless priorWasZero)
	Zero       bool
}

// DecodeFrame reads one frame header and, depending on its flags, the
// rest of the frame, writing any payload into scratch (which the
// caller owns and reuses across calls). priorWasZero should be true
// iff the previous frame decoded into this same scratch buffer was
// itself a zero block; when both that and the current frame are zero,
// the re-memset is skipped, matching the receiver's single-scratch-
// buffer optimization in spec §4.10.
func (w *WireCodec) DecodeFrame(scratch []byte, priorWasZero bool) (DecodedFrame, error) {
	word, err := w.transport.GetU64BE()
	if err != nil {
		return DecodedFrame{}, WrapError("wire_decode", err)
	}

	addrOrPercent, flags := unpackHeader(word)
	frame := DecodedFrame{Flags: flags}

	switch {
	case flags&flagEOS != 0:
		return frame, nil

	case flags&flagDeviceBlock != 0:
		frame.Sector = int64(addrOrPercent)

		nameLen, err := w.transport.GetU8()
		if err != nil {
			return DecodedFrame{}, WrapError("wire_decode", err)
		}
		nameBuf := make([]byte, nameLen)
		if nameLen > 0 {
			if err := w.transport.GetBytes(nameBuf); err != nil {
				return DecodedFrame{}, WrapError("wire_decode", err)
			}
		}
		frame.DeviceName = string(nameBuf)

		if flags&flagZeroBlock != 0 {
			frame.Zero = true
			if !priorWasZero {
				for i := range scratch {
					scratch[i] = 0
				}
			}
		} else {
			if err := w.transport.GetBytes(scratch[:ChunkBytes]); err != nil {
				return DecodedFrame{}, WrapError("wire_decode", err)
			}
		}
		frame.Payload = scratch
		return frame, nil

	case flags&flagProgress != 0:
		frame.Percent = int(addrOrPercent)
		return frame, nil

	default:
		return DecodedFrame{}, NewError("wire_decode", ErrCodeUnknownFlags, "frame carried no recognized flag")
	}
}
