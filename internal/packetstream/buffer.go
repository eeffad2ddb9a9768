// Package packetstream implements the glc Packet Stream: a bounded
// shared-memory ring buffer carrying framed packets between exactly one
// writer and one reader at a time, with back-pressure, cancellation, and
// zero-copy in-place access via DMA regions.
//
// A Buffer owns a single contiguous byte arena. At most one write
// packet and one read packet are open at any instant; packets are
// consumed strictly in the order their writers closed them. All
// blocking (Open, and Write or DMA waiting for space) is implemented
// with one mutex and one condition variable per buffer, matching the
// concurrency contract in the design: per-packet access is single
// threaded (the owning worker goroutine uses it serially), only the
// buffer-level open/close bookkeeping is shared.
package packetstream

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/glc/internal/glcerr"
)

// Mode selects which side of a packet Open creates.
type Mode int

const (
	// ModeRead opens the oldest fully-closed packet for reading.
	ModeRead Mode = iota
	// ModeWrite opens a new packet for writing.
	ModeWrite
)

// descriptor is one packet's bookkeeping entry in the buffer's FIFO
// queue. Offsets are absolute (monotonically increasing, never wrapped);
// the arena position is offset % capacity.
type descriptor struct {
	start       uint64 // absolute start offset
	length      uint64 // absolute end offset of the bytes committed so far (grows while open, final once closed)
	declaredLen uint64 // SetSize's declaration, if sizeKnown
	sizeKnown   bool
	closed      bool // true once the writer has Close()d it
}

// Buffer is a fixed-capacity Packet Stream ring buffer.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity uint64
	arena    []byte

	writtenTotal uint64 // absolute end of all bytes ever committed by writers
	freedTotal   uint64 // absolute offset up to which arena space has been reclaimed

	queue []*descriptor

	writerOpen bool
	readerOpen bool

	canceled atomic.Bool
}

// NewBuffer creates a Packet Stream ring buffer with the given capacity
// in bytes. capacity must be positive.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("packetstream: capacity must be positive")
	}
	b := &Buffer{
		capacity: uint64(capacity),
		arena:    make([]byte, capacity),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the arena size in bytes.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Cancel makes every blocked and future Open, and every Write or
// write-mode DMA that needs fresh arena space, return ErrCanceled.
// Reads from an already open packet are unaffected. Idempotent.
func (b *Buffer) Cancel() {
	b.canceled.Store(true)
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Canceled reports whether Cancel has been called on this buffer.
func (b *Buffer) Canceled() bool { return b.canceled.Load() }

func (b *Buffer) freeSpace() uint64 {
	return b.capacity - (b.writtenTotal - b.freedTotal)
}

// Open blocks until a packet of the requested mode can be opened, or the
// buffer is canceled. For ModeWrite it waits for at least one free byte
// and no other open writer; for ModeRead it waits for the oldest queued
// packet to be fully closed by its writer.
func (b *Buffer) Open(mode Mode) (*Packet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.canceled.Load() {
			return nil, glcerr.ErrCanceled
		}
		switch mode {
		case ModeWrite:
			if !b.writerOpen && b.freeSpace() > 0 {
				d := &descriptor{start: b.writtenTotal, length: b.writtenTotal}
				b.queue = append(b.queue, d)
				b.writerOpen = true
				return &Packet{buf: b, desc: d, mode: ModeWrite}, nil
			}
		case ModeRead:
			if !b.readerOpen && len(b.queue) > 0 && b.queue[0].closed {
				d := b.queue[0]
				b.readerOpen = true
				return &Packet{buf: b, desc: d, mode: ModeRead}, nil
			}
		}
		b.cond.Wait()
	}
}

// closeWrite finalizes a write packet: it becomes visible to readers in
// FIFO order and its length is published atomically (under the mutex).
func (b *Buffer) closeWrite(d *descriptor) {
	b.mu.Lock()
	d.closed = true
	b.writerOpen = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// closeRead pops the packet off the queue once its reader is done with
// it. Arena space is reclaimed all at once, by the caller, immediately
// before this (see Packet.Close and markRead).
func (b *Buffer) closeRead(d *descriptor) {
	b.mu.Lock()
	if len(b.queue) > 0 && b.queue[0] == d {
		b.queue = b.queue[1:]
	}
	b.readerOpen = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// reserve blocks until n bytes of fresh capacity are available at the
// tail of the arena (appending to d), or returns ErrCanceled. It
// commits the reservation to d.length and the buffer's writtenTotal
// immediately — matching the Stage Worker's setsize-before-payload
// protocol, where the final size is declared before the bytes are
// actually written.
func (b *Buffer) reserve(d *descriptor, n uint64) (absStart uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.canceled.Load() {
			return 0, glcerr.ErrCanceled
		}
		if b.freeSpace() >= n {
			absStart = b.writtenTotal
			b.writtenTotal += n
			d.length += n
			b.cond.Broadcast()
			return absStart, nil
		}
		b.cond.Wait()
	}
}

// appendIncremental writes p to the tail of d, blocking in chunks as
// arena space frees up. Used by Packet.Write's append path, which
// (unlike DMA/reserve) does not know the whole payload length ahead of
// time and so cannot reserve it all atomically without risking a
// deadlock against a reader waiting on a different packet.
func (b *Buffer) appendIncremental(d *descriptor, p []byte) error {
	for len(p) > 0 {
		b.mu.Lock()
		for !b.canceled.Load() && b.freeSpace() == 0 {
			b.cond.Wait()
		}
		if b.canceled.Load() {
			b.mu.Unlock()
			return glcerr.ErrCanceled
		}
		free := b.freeSpace()
		n := uint64(len(p))
		if n > free {
			n = free
		}
		pos := b.writtenTotal
		b.writtenTotal += n
		d.length += n
		b.cond.Broadcast()
		b.mu.Unlock()

		b.writeAt(pos, p[:n])
		p = p[n:]
	}
	return nil
}

// writeAt copies data into the arena starting at absolute offset pos,
// wrapping around the capacity boundary as needed. Safe to call without
// holding b.mu: the caller owns exclusive write access to this byte
// range because it was just reserved from b.writtenTotal.
func (b *Buffer) writeAt(pos uint64, data []byte) {
	start := pos % b.capacity
	n := copy(b.arena[start:], data)
	if n < len(data) {
		copy(b.arena, data[n:])
	}
}

// readAt copies n bytes out of the arena starting at absolute offset
// pos into a freshly allocated slice, wrapping as needed.
func (b *Buffer) readAt(pos, n uint64) []byte {
	out := make([]byte, n)
	start := pos % b.capacity
	c := copy(out, b.arena[start:])
	if uint64(c) < n {
		copy(out[c:], b.arena[:n-uint64(c)])
	}
	return out
}

// contiguousView returns a zero-copy slice of the arena covering
// [pos, pos+n) if that range does not wrap past the capacity boundary;
// ok is false if it wraps and the caller must fall back to a bounce
// buffer.
func (b *Buffer) contiguousView(pos, n uint64) (view []byte, ok bool) {
	start := pos % b.capacity
	if start+n > b.capacity {
		return nil, false
	}
	return b.arena[start : start+n : start+n], true
}

// truncate gives back arena capacity reserved by reserve beyond
// newRelLen, shrinking d's committed length down to it. Used by
// writers that reserve a worst-case region (e.g. a compressor sizing
// for incompressible input) and then learn the true, smaller size only
// after writing. Only valid while d is the single open writer and no
// further reserve/appendIncremental has happened since the over-sized
// reservation; shrinking past the already-committed length is a no-op.
func (b *Buffer) truncate(d *descriptor, newRelLen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rel := d.length - d.start
	if newRelLen >= rel {
		return
	}
	reclaimed := rel - newRelLen
	d.length -= reclaimed
	b.writtenTotal -= reclaimed
	b.cond.Broadcast()
}

// markRead advances the buffer's freedTotal by n bytes, reclaiming
// arena space for writers. Called once, from Packet.Close, for the
// packet's whole length at once — not incrementally as Read/DMA calls
// happen — so a zero-copy DMA view stays valid for as long as its
// packet is open.
func (b *Buffer) markRead(n uint64) {
	b.mu.Lock()
	b.freedTotal += n
	b.cond.Broadcast()
	b.mu.Unlock()
}
