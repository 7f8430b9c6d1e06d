package blkmigrate

import "context"

// Engine orchestrates the two-phase (bulk copy, dirty re-copy)
// migration state machine described in spec §4. One Engine serves one
// migration session; a fresh Setup is required to reuse it after
// Cancel or a terminal error from any lifecycle hook.
type Engine struct {
	params   MigrationParams
	blkEnable uint8
	opts     Options

	codec   *WireCodec
	pending *PendingQueue
	cursors []*DeviceCursor

	submitted   int64
	readDone    int64
	transferred int64

	bulkCompleted bool
	lastProgress  int

	cumulativeReadNs int64
	readCompletions  int64
	lastTimestamp    int64
}

// NewEngine constructs an Engine bound to its external collaborators.
// SetParams and Setup must both be called before Iterate.
func NewEngine(opts Options) *Engine {
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}
	return &Engine{
		opts:    opts,
		codec:   newWireCodec(opts.Sink),
		pending: newPendingQueue(),
	}
}

// SetParams installs the migration parameter surface (spec §6.3).
func (e *Engine) SetParams(p MigrationParams) {
	e.params = p
	e.blkEnable = p.blkEnableBits()
}

// IsActive reports whether block migration is enabled in the current
// parameter set. Per the Open Question resolution in spec §9, this
// tests the whole enable mask against zero, not against a single bit,
// since Shared and Sparse OR additional bits into the same mask.
func (e *Engine) IsActive() bool {
	return e.blkEnable != 0
}

// Active is the query function of spec §6.2: true iff at least one
// device is currently registered with the migration.
func (e *Engine) Active() bool {
	return len(e.cursors) > 0
}

// BytesTotal sums the total size, in bytes, of every registered device.
func (e *Engine) BytesTotal() int64 {
	var total int64
	for _, c := range e.cursors {
		total += c.totalSectors * SectorSize
	}
	return total
}

// BytesTransferred estimates bytes sent so far as the sum of each
// device's completed-sector counter, converted to bytes.
func (e *Engine) BytesTransferred() int64 {
	var total int64
	for _, c := range e.cursors {
		total += c.completedSectors * SectorSize
	}
	return total
}

// BytesRemaining is BytesTotal minus BytesTransferred.
func (e *Engine) BytesRemaining() int64 {
	return e.BytesTotal() - e.BytesTransferred()
}

// DeviceSnapshot is one device's progress, returned by EngineSnapshot.
type DeviceSnapshot struct {
	Name                 string
	TotalSectors         int64
	CompletedSectors     int64
	BulkCompleted        bool
	DirtyChunksRemaining int64
}

// EngineSnapshot introspects per-device progress beyond the four
// required query functions (spec.md §6.2) — a supplemented feature
// for an operator dashboard, not required by the core lifecycle.
func (e *Engine) EngineSnapshot() []DeviceSnapshot {
	out := make([]DeviceSnapshot, 0, len(e.cursors))
	for _, c := range e.cursors {
		out = append(out, DeviceSnapshot{
			Name:                 c.Name(),
			TotalSectors:         c.TotalSectors(),
			CompletedSectors:     c.CompletedSectors(),
			BulkCompleted:        c.BulkCompleted(),
			DirtyChunksRemaining: c.DirtyChunksRemaining(),
		})
	}
	return out
}

// Setup resets all engine state, enumerates devices (spec §4.2), and
// emits the phase-boundary EOS marker. On any error cleanup runs
// before Setup returns (spec §7).
func (e *Engine) Setup(ctx context.Context) error {
	e.resetCounters()
	e.pending = newPendingQueue()
	e.cursors = nil

	var enumErr error
	e.opts.Devices.IterateAll(func(dev BlockDevice) bool {
		if dev.ReadOnly() || dev.Length() <= 0 {
			return true
		}
		if e.opts.RefTable != nil {
			if err := e.opts.RefTable.Acquire(dev.Name()); err != nil {
				enumErr = WrapError("setup_acquire", err)
				return false
			}
		}
		dev.SetInUse(true)
		dev.SetDirtyTracking(true)
		e.cursors = append(e.cursors, newDeviceCursor(dev, e.params.Shared, e.params.Sparse))
		return true
	})
	if enumErr != nil {
		e.cleanup(ctx)
		return enumErr
	}

	if err := e.flushPending(); err != nil {
		e.cleanup(ctx)
		return err
	}

	for _, c := range e.cursors {
		c.resetDirtyCursor()
	}

	if err := e.codec.EncodeEOS(); err != nil {
		e.cleanup(ctx)
		return WrapError("setup", err)
	}
	return nil
}

func (e *Engine) resetCounters() {
	e.submitted = 0
	e.readDone = 0
	e.transferred = 0
	e.bulkCompleted = false
	e.lastProgress = 0
	e.cumulativeReadNs = 0
	e.readCompletions = 0
	e.lastTimestamp = 0
}

// Load is a no-op hook completing the lifecycle surface of spec §6.2.
// The distilled spec names `load` without describing its semantics,
// and there is no persisted dirty-bitmap format in scope here
// (resumption after a broken transport is an explicit Non-goal), so
// Load resets the engine counters and every device's dirty cursor. It
// does not re-run device enumeration or replace the pending queue.
func (e *Engine) Load(ctx context.Context) error {
	e.resetCounters()
	for _, c := range e.cursors {
		c.resetDirtyCursor()
	}
	return nil
}

// Iterate advances the bulk or dirty phase under the transport's rate
// limit (spec §4.9), returning the result of the convergence test.
func (e *Engine) Iterate(ctx context.Context) (bool, error) {
	if err := e.flushPending(); err != nil {
		e.cleanup(ctx)
		return false, err
	}
	for _, c := range e.cursors {
		c.resetDirtyCursor()
	}

	for (e.submitted+e.readDone)*ChunkBytes < e.params.RateLimitWindowBytes {
		if !e.bulkCompleted {
			allDone, err := e.bulkStep(ctx)
			if err != nil {
				e.cleanup(ctx)
				return false, err
			}
			if allDone {
				e.bulkCompleted = true
			}
		} else {
			found, err := e.dirtyStep(ctx, true)
			if err != nil {
				e.cleanup(ctx)
				return false, err
			}
			if !found {
				break
			}
		}
	}

	if err := e.flushPending(); err != nil {
		e.cleanup(ctx)
		return false, err
	}
	if err := e.emitProgress(); err != nil {
		e.cleanup(ctx)
		return false, err
	}
	if err := e.codec.EncodeEOS(); err != nil {
		e.cleanup(ctx)
		return false, WrapError("iterate", err)
	}

	return e.stage2Done(), nil
}

// Complete drains the pipeline synchronously under the caller's
// guarantee that the guest is already paused (spec §4.9): no further
// async reads are submitted, all remaining dirty chunks are read and
// sent inline, and a terminal 100% progress frame precedes EOS.
func (e *Engine) Complete(ctx context.Context) error {
	if err := e.flushPending(); err != nil {
		e.cleanup(ctx)
		return err
	}
	if e.submitted != 0 {
		err := NewError("complete", ErrCodeInvalidParameters, "reads still in flight at complete")
		e.cleanup(ctx)
		return err
	}

	for _, c := range e.cursors {
		c.resetDirtyCursor()
	}

	for _, c := range e.cursors {
		for {
			found, err := e.dirtyStepOne(ctx, c, false)
			if err != nil {
				e.cleanup(ctx)
				return err
			}
			if !found {
				break
			}
		}
	}

	e.lastProgress = 100
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveProgress(100)
	}
	if err := e.codec.EncodeProgress(100); err != nil {
		e.cleanup(ctx)
		return WrapError("complete", err)
	}
	if err := e.codec.EncodeEOS(); err != nil {
		e.cleanup(ctx)
		return WrapError("complete", err)
	}
	return nil
}

// Cancel runs cleanup immediately (spec §4.9); the engine is inert
// afterward until a fresh Setup.
func (e *Engine) Cancel(ctx context.Context) {
	e.cleanup(ctx)
}

func (e *Engine) cleanup(ctx context.Context) {
	for _, c := range e.cursors {
		c.device.Drain(ctx)
		c.device.SetDirtyTracking(false)
		c.device.SetInUse(false)
		if e.opts.RefTable != nil {
			e.opts.RefTable.Release(c.Name())
		}
	}
	e.cursors = nil
	e.pending = newPendingQueue()
	e.submitted = 0
}

// bulkStep advances at most one chunk for the first device cursor
// whose bulk phase is not yet complete (spec §4.3). It reports whether
// every device has now finished its bulk phase.
func (e *Engine) bulkStep(ctx context.Context) (allCompleted bool, err error) {
	for _, c := range e.cursors {
		if c.bulkCompleted {
			continue
		}
		if serr := e.stepOneBulkChunk(ctx, c); serr != nil {
			return false, serr
		}
		break
	}
	for _, c := range e.cursors {
		if !c.bulkCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) stepOneBulkChunk(ctx context.Context, c *DeviceCursor) error {
	if c.sharedBase {
		allocated, run := c.device.IsAllocated(c.bulkCursor, maxAllocationSearchSectors)
		if !allocated && run > 0 {
			c.bulkCursor += run
			if c.exhaustedForBulk() {
				c.bulkCompleted = true
				c.completedSectors = c.totalSectors
			}
			return nil
		}
	}

	if c.exhaustedForBulk() {
		c.bulkCompleted = true
		c.completedSectors = c.totalSectors
		return nil
	}

	aligned := (c.bulkCursor / SectorsPerChunk) * SectorsPerChunk
	c.completedSectors = c.bulkCursor

	count := SectorsPerChunk
	if remaining := c.totalSectors - aligned; remaining < int64(count) {
		count = int(remaining)
	}

	pr := newPendingRead(c, aligned, count, true)
	c.inFlight.Set(aligned, int64(count), true)
	e.submitRead(ctx, c, pr)
	c.device.ResetDirty(aligned, count)
	c.bulkCursor = aligned + int64(count)

	if c.exhaustedForBulk() {
		c.bulkCompleted = true
		c.completedSectors = c.totalSectors
	}
	return nil
}

// dirtyStep tries each device in enumeration order, running one
// dirty-phase scan-and-copy on the first device with scan range
// remaining. It returns false ("no dirty chunk found anywhere") only
// when every device's scan reached its end without finding a dirty
// chunk to copy.
func (e *Engine) dirtyStep(ctx context.Context, async bool) (foundAny bool, err error) {
	for _, c := range e.cursors {
		if c.dirtyCursor >= c.totalSectors {
			continue
		}
		found, serr := e.dirtyStepOne(ctx, c, async)
		if serr != nil {
			return false, serr
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// dirtyStepOne implements dirty_step(device, async) of spec §4.4: scan
// forward chunk by chunk from the device's dirty cursor, draining
// in-flight reads that overlap a candidate chunk, copying (and
// advancing past) the first dirty chunk found.
func (e *Engine) dirtyStepOne(ctx context.Context, c *DeviceCursor, async bool) (found bool, err error) {
	for c.dirtyCursor < c.totalSectors {
		sector := c.dirtyCursor

		if c.inFlight.Test(sector) {
			c.device.Drain(ctx)
		}

		if c.device.DirtyChunk(sector) {
			count := SectorsPerChunk
			if remaining := c.totalSectors - sector; remaining < int64(count) {
				count = int(remaining)
			}
			pr := newPendingRead(c, sector, count, false)

			if async {
				c.inFlight.Set(sector, int64(count), true)
				e.submitRead(ctx, c, pr)
			} else {
				if rerr := c.device.ReadAt(sector, pr.buf, count); rerr != nil {
					return false, WrapError("dirty_step", rerr)
				}
				if serr := e.sendOne(c, pr); serr != nil {
					return false, serr
				}
			}

			c.device.ResetDirty(sector, count)
			c.dirtyCursor = sector + SectorsPerChunk
			return true, nil
		}

		c.dirtyCursor = sector + SectorsPerChunk
	}
	return false, nil
}

// submitRead issues one async read and wires its completion into the
// bookkeeping of spec §4.5.
func (e *Engine) submitRead(ctx context.Context, c *DeviceCursor, pr *PendingRead) {
	if e.submitted == 0 {
		e.lastTimestamp = e.opts.Clock.MonotonicNanos()
	}
	e.submitted++
	c.device.AsyncReadAt(ctx, pr.sector, pr.buf, pr.count, func(err error) {
		e.onReadComplete(c, pr, err)
	})
}

func (e *Engine) onReadComplete(c *DeviceCursor, pr *PendingRead, err error) {
	pr.err = err
	e.pending.Push(pr)
	c.inFlight.Set(pr.sector, int64(pr.count), false)
	e.submitted--
	e.readDone++

	now := e.opts.Clock.MonotonicNanos()
	elapsed := now - e.lastTimestamp
	if elapsed > 0 {
		e.cumulativeReadNs += elapsed
		e.readCompletions++
	}
	e.lastTimestamp = now

	if err == nil {
		zero := isZeroBuffer(pr.buf)
		e.opts.Observer.ObserveChunkRead(uint64(pr.count)*SectorSize, uint64(elapsed), zero)
	}
}

// flushPending drains the PendingQueue head-first, stopping at the
// transport's rate limit or the first read error (spec §4.6).
func (e *Engine) flushPending() error {
	for e.pending.Len() > 0 {
		if e.opts.Sink.RateLimited() {
			return nil
		}
		pr := e.pending.items[0]
		if pr.err != nil {
			return WrapError("flush_pending", pr.err)
		}
		e.pending.Pop()
		if err := e.sendOne(pr.cursor, pr); err != nil {
			return err
		}
		e.readDone--
		e.transferred++
	}
	return nil
}

// sendOne hands a single read to the WireCodec, honoring sparse+bulk
// elision (spec §4.7).
func (e *Engine) sendOne(c *DeviceCursor, pr *PendingRead) error {
	elided, err := e.codec.EncodeDeviceBlock(c.Name(), pr.sector, pr.count, pr.buf, c.sparseEnable, pr.bulk)
	if err != nil {
		return WrapError("send_one", err)
	}
	if elided {
		return nil
	}
	zero := isZeroBuffer(pr.buf)
	e.opts.Observer.ObserveChunkSent(uint64(pr.count)*SectorSize, zero)
	return nil
}

// emitProgress computes the bytes-based completion percentage and
// emits a PROGRESS frame if it has advanced (spec §4.9, §8 property 8:
// progress is non-decreasing).
func (e *Engine) emitProgress() error {
	total := e.BytesTotal()
	if total <= 0 {
		return nil
	}
	pct := int(e.BytesTransferred() * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < e.lastProgress {
		pct = e.lastProgress
	}
	if pct == e.lastProgress {
		return nil
	}
	e.lastProgress = pct
	e.opts.Observer.ObserveProgress(pct)
	if err := e.codec.EncodeProgress(pct); err != nil {
		return WrapError("emit_progress", err)
	}
	return nil
}

// stage2Done is the convergence test of spec §4.8.
func (e *Engine) stage2Done() bool {
	if !e.bulkCompleted {
		return false
	}

	var remainingDirtyChunks int64
	for _, c := range e.cursors {
		remainingDirtyChunks += c.DirtyChunksRemaining()
	}
	if remainingDirtyChunks == 0 {
		return true
	}

	if e.cumulativeReadNs <= 0 || e.readCompletions <= 0 {
		return false
	}
	throughputBps := float64(e.readCompletions*ChunkBytes) / (float64(e.cumulativeReadNs) / 1e9)
	if throughputBps <= 0 {
		return false
	}

	remainingDirtyBytes := float64(remainingDirtyChunks * ChunkBytes)
	maxDowntime := e.params.MaxDowntimeSeconds
	if e.opts.Driver != nil {
		maxDowntime = e.opts.Driver.MaxDowntimeSeconds()
	}
	return remainingDirtyBytes/throughputBps <= maxDowntime
}
