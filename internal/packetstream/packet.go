package packetstream

import (
	"github.com/zsiec/glc/internal/glcerr"
)

// pendingFlush records a bounce-buffer DMA write that still needs to be
// copied into the arena — deferred until the next operation that cares
// about ordering (another DMA/Seek/Write call) or Close.
type pendingFlush struct {
	pos uint64
	buf []byte
}

// Packet is a handle bound to one descriptor in a Buffer. It opens
// exactly one read or write transaction at a time and exposes
// sequential read/write/seek/size access over that transaction's
// payload. A Packet is not safe for concurrent use: the owning worker
// goroutine uses it serially, per the design's single-threaded-per-
// packet contract.
type Packet struct {
	buf    *Buffer
	desc   *descriptor
	mode   Mode
	cursor uint64 // offset relative to desc.start
	flush  []pendingFlush
	closed bool
}

// relLength returns the packet's currently committed length, relative
// to its start.
func (p *Packet) relLength() uint64 {
	return p.desc.length - p.desc.start
}

// Write appends or overwrites bytes at the packet's current cursor. If
// the cursor is at the end of the packet's committed length, this
// extends the packet (consuming arena capacity, blocking if the arena
// is full until the reader advances); if the cursor is before the end
// (following a Seek), it overwrites already-committed bytes in place
// without consuming new capacity.
func (p *Packet) Write(data []byte) (int, error) {
	if p.mode != ModeWrite {
		return 0, glcerr.ErrInval
	}
	if err := p.flushPending(); err != nil {
		return 0, err
	}

	total := len(data)
	rel := p.relLength()
	if p.cursor < rel {
		// Overwrite in place, bounded by the already-committed tail.
		n := rel - p.cursor
		if uint64(len(data)) < n {
			n = uint64(len(data))
		}
		p.buf.writeAt(p.desc.start+p.cursor, data[:n])
		p.cursor += n
		data = data[n:]
	}
	if len(data) > 0 {
		if err := p.buf.appendIncremental(p.desc, data); err != nil {
			return total - len(data), err
		}
		p.cursor += uint64(len(data))
	}
	return total, nil
}

// Read copies the next n bytes of the currently open read packet into a
// freshly allocated slice.
func (p *Packet) Read(n int) ([]byte, error) {
	if p.mode != ModeRead {
		return nil, glcerr.ErrInval
	}
	if uint64(n) > p.relLength()-p.cursor {
		return nil, glcerr.ErrBadMsg
	}
	out := p.buf.readAt(p.desc.start+p.cursor, uint64(n))
	p.advanceRead(uint64(n))
	return out, nil
}

// DMA returns a view of the next n bytes without copying when they are
// contiguous in the arena. If they wrap the arena boundary, it falls
// back to an internally allocated bounce buffer ("fake DMA") when
// acceptFake is true; otherwise it reports ErrNotSupported. The
// returned slice is valid until the next DMA/Write/Seek call or Close.
func (p *Packet) DMA(n int, acceptFake bool) (data []byte, fake bool, err error) {
	un := uint64(n)
	switch p.mode {
	case ModeRead:
		if un > p.relLength()-p.cursor {
			return nil, false, glcerr.ErrBadMsg
		}
		pos := p.desc.start + p.cursor
		if view, ok := p.buf.contiguousView(pos, un); ok {
			p.advanceRead(un)
			return view, false, nil
		}
		if !acceptFake {
			return nil, false, glcerr.ErrNotSupported
		}
		bounce := p.buf.readAt(pos, un)
		p.advanceRead(un)
		return bounce, true, nil

	case ModeWrite:
		if err := p.flushPending(); err != nil {
			return nil, false, err
		}
		rel := p.relLength()
		var pos uint64
		if p.cursor < rel {
			// Overwrite an already-committed region.
			if un > rel-p.cursor {
				return nil, false, glcerr.ErrInval
			}
			pos = p.desc.start + p.cursor
		} else {
			var err error
			pos, err = p.buf.reserve(p.desc, un)
			if err != nil {
				return nil, false, err
			}
		}
		if view, ok := p.buf.contiguousView(pos, un); ok {
			p.cursor += un
			return view, false, nil
		}
		if !acceptFake {
			return nil, false, glcerr.ErrNotSupported
		}
		bounce := make([]byte, un)
		p.flush = append(p.flush, pendingFlush{pos: pos, buf: bounce})
		p.cursor += un
		return bounce, true, nil

	default:
		return nil, false, glcerr.ErrInval
	}
}

// advanceRead moves the read cursor forward. It does not reclaim arena
// space: a DMA read hands back a zero-copy view into the arena that
// must stay valid until the packet closes (DMA's own contract), and a
// stage worker routinely holds that view across a blocking Output.Open
// while it waits to write it elsewhere. Freeing progressively here
// would let the single upstream writer reserve and overwrite that same
// region out from under the still-live view. All arena space this
// packet occupied is reclaimed at once in Close, the same way the
// original glc packet stream only advances its read pointer at
// read-close.
func (p *Packet) advanceRead(n uint64) {
	p.cursor += n
}

// Seek repositions the cursor within the currently open packet, used to
// write the header after the payload size is known.
func (p *Packet) Seek(offset int) error {
	if uint64(offset) > p.relLength() {
		return glcerr.ErrInval
	}
	if err := p.flushPending(); err != nil {
		return err
	}
	p.cursor = uint64(offset)
	return nil
}

// Truncate gives back arena capacity reserved (via DMA) beyond n bytes,
// when the caller reserved a worst-case region up front but the actual
// payload turned out smaller — the Compressor's case. It also clamps
// the cursor to n; a size declared with SetSize is left unchanged.
func (p *Packet) Truncate(n int) error {
	if p.mode != ModeWrite {
		return glcerr.ErrInval
	}
	p.buf.truncate(p.desc, uint64(n))
	if p.cursor > uint64(n) {
		p.cursor = uint64(n)
	}
	return nil
}

// SetSize pre-declares a write packet's final length so that
// GetSize reflects it immediately, without waiting for Close.
func (p *Packet) SetSize(n int) error {
	if p.mode != ModeWrite {
		return glcerr.ErrInval
	}
	p.desc.declaredLen = uint64(n)
	p.desc.sizeKnown = true
	return nil
}

// GetSize returns the declared size if SetSize was called, otherwise
// the packet's current committed length.
func (p *Packet) GetSize() int {
	if p.desc.sizeKnown {
		return int(p.desc.declaredLen)
	}
	return int(p.relLength())
}

// Close publishes a write packet (making it visible to readers in FIFO
// order) or releases a read packet, reclaiming the arena space it
// occupied — the whole packet at once, whether or not every byte was
// actually Read/DMA'd, so a still-live DMA view from earlier in this
// same packet is never invalidated before the caller is done with it.
func (p *Packet) Close() error {
	if p.closed {
		return glcerr.ErrAlready
	}
	p.closed = true
	switch p.mode {
	case ModeWrite:
		if err := p.flushPending(); err != nil {
			return err
		}
		p.buf.closeWrite(p.desc)
	case ModeRead:
		if rel := p.relLength(); rel > 0 {
			p.buf.markRead(rel)
		}
		p.buf.closeRead(p.desc)
	}
	return nil
}

func (p *Packet) flushPending() error {
	if len(p.flush) == 0 {
		return nil
	}
	for _, f := range p.flush {
		p.buf.writeAt(f.pos, f.buf)
	}
	p.flush = p.flush[:0]
	return nil
}
