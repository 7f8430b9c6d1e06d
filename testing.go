package blkmigrate

import (
	"context"
	"sync"
)

// MockBlockDevice is an in-memory BlockDevice for unit tests. Writes
// from WriteAt (receiver-side apply) are distinguished from "guest
// writes" simulated via SimulateGuestWrite, which is the only path
// that sets dirty bits — mirroring the real block layer where the
// migration's own receiver applies don't re-dirty the source.
type MockBlockDevice struct {
	mu sync.Mutex

	name     string
	data     []byte
	readOnly bool

	dirty       *ChunkBitmap
	dirtyActive bool

	inUse bool

	readCalls      int
	writeCalls     int
	asyncReadCalls int
}

// NewMockBlockDevice creates a zero-filled device of size bytes.
func NewMockBlockDevice(name string, size int64) *MockBlockDevice {
	return &MockBlockDevice{
		name:  name,
		data:  make([]byte, size),
		dirty: NewChunkBitmap(size / SectorSize),
	}
}

func (m *MockBlockDevice) Name() string { return m.name }
func (m *MockBlockDevice) Length() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}
func (m *MockBlockDevice) ReadOnly() bool { return m.readOnly }

// IsAllocated always reports the whole remaining device as allocated;
// MockBlockDevice has no sparse/shared-base concept of its own.
func (m *MockBlockDevice) IsAllocated(sector int64, maxSearch int64) (bool, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := int64(len(m.data)) / SectorSize
	remaining := total - sector
	if remaining > maxSearch {
		remaining = maxSearch
	}
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

func (m *MockBlockDevice) ReadAt(sector int64, buf []byte, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++

	off := sector * SectorSize
	length := int64(n) * SectorSize
	if off+length > int64(len(m.data)) {
		return NewDeviceError("mock_read", m.name, ErrCodeBlockReadError, "read beyond device end")
	}
	copy(buf, m.data[off:off+length])
	return nil
}

func (m *MockBlockDevice) WriteAt(sector int64, buf []byte, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++

	if m.readOnly {
		return NewDeviceError("mock_write", m.name, ErrCodeBlockWriteError, "device is read-only")
	}
	off := sector * SectorSize
	length := int64(n) * SectorSize
	if off+length > int64(len(m.data)) {
		return NewDeviceError("mock_write", m.name, ErrCodeBlockWriteError, "write beyond device end")
	}
	copy(m.data[off:off+length], buf[:length])
	return nil
}

// AsyncReadAt runs synchronously and invokes completion before
// returning; tests that need genuine deferral should use a real
// BlockDevice implementation instead.
func (m *MockBlockDevice) AsyncReadAt(ctx context.Context, sector int64, buf []byte, n int, completion func(err error)) {
	m.mu.Lock()
	m.asyncReadCalls++
	m.mu.Unlock()
	completion(m.ReadAt(sector, buf, n))
}

// Drain is a no-op: MockBlockDevice's AsyncReadAt completes inline
// before returning, so there is never anything outstanding to wait for.
func (m *MockBlockDevice) Drain(ctx context.Context) {}

func (m *MockBlockDevice) SetDirtyTracking(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirtyActive = enable
}

func (m *MockBlockDevice) DirtyChunk(sector int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty.Test(sector)
}

func (m *MockBlockDevice) ResetDirty(sector int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty.Set(sector, int64(n), false)
}

func (m *MockBlockDevice) DirtyChunkCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty.Count()
}

func (m *MockBlockDevice) SetInUse(inUse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse = inUse
}

// SimulateGuestWrite writes to the device and, if dirty tracking is
// enabled, marks the touched chunks dirty — standing in for a real
// guest write landing on the source device during the dirty phase.
func (m *MockBlockDevice) SimulateGuestWrite(sector int64, buf []byte, n int) error {
	if err := m.WriteAt(sector, buf, n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirtyActive {
		m.dirty.Set(sector, int64(n), true)
	}
	return nil
}

// CallCounts reports how many times each method fired, for assertions.
func (m *MockBlockDevice) CallCounts() (reads, writes, asyncReads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls, m.writeCalls, m.asyncReadCalls
}

var _ BlockDevice = (*MockBlockDevice)(nil)

// MockTransport is an in-memory, unlimited Transport backed by a
// plain byte slice, with independent read/write cursors so a test can
// encode through one handle and decode through another view of the
// same buffer.
type MockTransport struct {
	mu  sync.Mutex
	buf []byte
	pos int
	err error
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (t *MockTransport) PutU64BE(word uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(word >> (8 * i))
	}
	t.buf = append(t.buf, b[:]...)
	return nil
}

func (t *MockTransport) PutU8(b byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b)
	return nil
}

func (t *MockTransport) PutBytes(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	return nil
}

func (t *MockTransport) Flush() error { return nil }

func (t *MockTransport) GetU64BE() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos+8 > len(t.buf) {
		return 0, NewError("mock_transport_read", ErrCodeTransportIO, "short read")
	}
	var word uint64
	for i := 0; i < 8; i++ {
		word = (word << 8) | uint64(t.buf[t.pos+i])
	}
	t.pos += 8
	return word, nil
}

func (t *MockTransport) GetU8() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos+1 > len(t.buf) {
		return 0, NewError("mock_transport_read", ErrCodeTransportIO, "short read")
	}
	b := t.buf[t.pos]
	t.pos++
	return b, nil
}

func (t *MockTransport) GetBytes(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos+len(p) > len(t.buf) {
		return NewError("mock_transport_read", ErrCodeTransportIO, "short read")
	}
	copy(p, t.buf[t.pos:t.pos+len(p)])
	t.pos += len(p)
	return nil
}

func (t *MockTransport) RateLimited() bool          { return false }
func (t *MockTransport) RateLimitWindowBytes() int64 { return 0 }
func (t *MockTransport) Err() error                  { return t.err }

// Bytes returns a copy of everything written so far.
func (t *MockTransport) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

var _ Transport = (*MockTransport)(nil)

// MockClock is a manually-advanced Clock for deterministic tests.
type MockClock struct {
	mu  sync.Mutex
	now int64
}

// NewMockClock creates a MockClock starting at 0.
func NewMockClock() *MockClock {
	return &MockClock{}
}

func (c *MockClock) MonotonicNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d nanoseconds.
func (c *MockClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

var _ Clock = (*MockClock)(nil)

// MockMigrationDriver is a MigrationDriver with a fixed downtime budget.
type MockMigrationDriver struct {
	MaxDowntime float64
}

func (d *MockMigrationDriver) MaxDowntimeSeconds() float64 { return d.MaxDowntime }

var _ MigrationDriver = (*MockMigrationDriver)(nil)

// MockDeviceRegistry is a DeviceRegistry over a fixed set of devices.
type MockDeviceRegistry struct {
	devices []BlockDevice
}

// NewMockDeviceRegistry creates a registry over devices, in the given
// iteration order.
func NewMockDeviceRegistry(devices ...BlockDevice) *MockDeviceRegistry {
	return &MockDeviceRegistry{devices: devices}
}

func (r *MockDeviceRegistry) IterateAll(fn func(BlockDevice) bool) {
	for _, d := range r.devices {
		if !fn(d) {
			return
		}
	}
}

func (r *MockDeviceRegistry) Find(name string) (BlockDevice, bool) {
	for _, d := range r.devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

var _ DeviceRegistry = (*MockDeviceRegistry)(nil)
