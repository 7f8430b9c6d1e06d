//go:build !linux

package blockdev

import (
	"context"
	"os"
	"sync"

	"github.com/blkmig/blkmigrate"
)

// File is the non-Linux fallback BlockDevice backed by a real file or
// block special device. It has no io_uring available, so AsyncReadAt
// hands the read to a fixed goroutine pool instead of the single
// completion-reaper loop iouring_linux.go uses; functionally it offers
// the same contract (completion fires exactly once, off the caller's
// stack), just with real OS threads doing the blocking read.
type File struct {
	name     string
	f        *os.File
	size     int64
	readOnly bool

	work chan func()
	wg   sync.WaitGroup

	dirtyMu     sync.Mutex
	dirty       *blkmigrate.ChunkBitmap
	dirtyActive bool

	inUse bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

const asyncPoolSize = 8

// OpenFile opens path for migration, sizing the device from a plain
// stat since BLKGETSIZE64 is Linux-specific.
func OpenFile(name, path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, blkmigrate.WrapError("async_open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, blkmigrate.WrapError("async_open", err)
	}

	dev := &File{
		name:     name,
		f:        f,
		size:     info.Size(),
		readOnly: readOnly,
		work:    make(chan func(), 256),
		dirty:   blkmigrate.NewChunkBitmap(info.Size() / blkmigrate.SectorSize),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < asyncPoolSize; i++ {
		dev.wg.Add(1)
		go dev.worker()
	}
	return dev, nil
}

func (d *File) worker() {
	defer d.wg.Done()
	for {
		select {
		case job, ok := <-d.work:
			if !ok {
				return
			}
			job()
		case <-d.closeCh:
			return
		}
	}
}

func (d *File) Name() string    { return d.name }
func (d *File) Length() int64   { return d.size }
func (d *File) ReadOnly() bool  { return d.readOnly }
func (d *File) SetInUse(v bool) { d.inUse = v }

func (d *File) IsAllocated(sector int64, maxSearch int64) (bool, int64) {
	total := d.size / blkmigrate.SectorSize
	remaining := total - sector
	if remaining > maxSearch {
		remaining = maxSearch
	}
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

func (d *File) ReadAt(sector int64, buf []byte, n int) error {
	off := sector * blkmigrate.SectorSize
	length := int64(n) * blkmigrate.SectorSize
	if _, err := d.f.ReadAt(buf[:length], off); err != nil {
		return blkmigrate.NewDeviceError("async_read", d.name, blkmigrate.ErrCodeBlockReadError, err.Error())
	}
	return nil
}

func (d *File) WriteAt(sector int64, buf []byte, n int) error {
	if d.readOnly {
		return blkmigrate.NewDeviceError("async_write", d.name, blkmigrate.ErrCodeBlockWriteError, "device is read-only")
	}
	off := sector * blkmigrate.SectorSize
	length := int64(n) * blkmigrate.SectorSize
	if _, err := d.f.WriteAt(buf[:length], off); err != nil {
		return blkmigrate.NewDeviceError("async_write", d.name, blkmigrate.ErrCodeBlockWriteError, err.Error())
	}
	return nil
}

// AsyncReadAt enqueues the read on the worker pool; completion runs on
// whichever worker picks up the job, never on the caller's goroutine.
func (d *File) AsyncReadAt(ctx context.Context, sector int64, buf []byte, n int, completion func(err error)) {
	d.work <- func() {
		completion(d.ReadAt(sector, buf, n))
	}
}

// Drain is approximate on this backend: it waits for the work channel
// to empty rather than tracking individual in-flight jobs, which is
// sufficient since nothing re-enqueues work once the caller stops
// submitting.
func (d *File) Drain(ctx context.Context) {
	for len(d.work) > 0 {
	}
}

func (d *File) SetDirtyTracking(enable bool) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	d.dirtyActive = enable
}

func (d *File) DirtyChunk(sector int64) bool {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	return d.dirty.Test(sector)
}

func (d *File) ResetDirty(sector int64, n int) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	d.dirty.Set(sector, int64(n), false)
}

func (d *File) DirtyChunkCount() int64 {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	return d.dirty.Count()
}

// MarkDirty records a guest write to [sector, sector+n) for dirty
// tracking; a real hypervisor's block layer calls this from its own
// write path, not from this module.
func (d *File) MarkDirty(sector int64, n int64) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	if d.dirtyActive {
		d.dirty.Set(sector, n, true)
	}
}

// Close stops the worker pool and closes the underlying file.
func (d *File) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closeCh)
		d.wg.Wait()
		err = d.f.Close()
	})
	return err
}

var _ blkmigrate.BlockDevice = (*File)(nil)
