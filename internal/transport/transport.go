// Package transport implements the rate-limited byte-stream sink/source
// the engine and receiver read and write frames through (spec §6.1,
// §6.4). The rate limit is advisory: writes always complete so the
// stream stays correct, but RateLimited reports when the recent byte
// rate is over budget so the engine can defer further work to the
// next iterate call (spec §4.6, §5 backpressure).
package transport

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type flusher interface {
	Flush() error
}

// RateLimited wraps an io.ReadWriter with a token-bucket rate limiter
// sized to windowBytes per second, refilling at the same rate (spec
// §6.3's rate-limit window).
type RateLimited struct {
	mu sync.Mutex

	rw          io.ReadWriter
	limiter     *rate.Limiter
	windowBytes int64
	err         error
}

// New wraps rw with a rate limiter budgeted at windowBytes per second,
// burst-capped at the same size.
func New(rw io.ReadWriter, windowBytes int64) *RateLimited {
	if windowBytes <= 0 {
		windowBytes = 1
	}
	return &RateLimited{
		rw:          rw,
		limiter:     rate.NewLimiter(rate.Limit(windowBytes), int(windowBytes)),
		windowBytes: windowBytes,
	}
}

func (t *RateLimited) write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}
	if _, err := t.rw.Write(p); err != nil {
		t.err = err
		return err
	}
	if len(p) > 0 {
		t.limiter.ReserveN(time.Now(), len(p))
	}
	return nil
}

func (t *RateLimited) PutU64BE(word uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], word)
	return t.write(b[:])
}

func (t *RateLimited) PutU8(b byte) error {
	return t.write([]byte{b})
}

func (t *RateLimited) PutBytes(p []byte) error {
	return t.write(p)
}

// Flush forwards to the wrapped writer's Flush, if it has one.
func (t *RateLimited) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.rw.(flusher); ok {
		if err := f.Flush(); err != nil {
			t.err = err
			return err
		}
	}
	return nil
}

func (t *RateLimited) readFull(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}
	if _, err := io.ReadFull(t.rw, p); err != nil {
		t.err = err
		return err
	}
	return nil
}

func (t *RateLimited) GetU64BE() (uint64, error) {
	var b [8]byte
	if err := t.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (t *RateLimited) GetU8() (byte, error) {
	var b [1]byte
	if err := t.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (t *RateLimited) GetBytes(p []byte) error {
	return t.readFull(p)
}

// RateLimited reports whether the token bucket is currently exhausted.
func (t *RateLimited) RateLimited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.Tokens() <= 0
}

func (t *RateLimited) RateLimitWindowBytes() int64 {
	return t.windowBytes
}

func (t *RateLimited) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
