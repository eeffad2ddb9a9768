// Package demux implements the Demux component of spec §4.6: it reads
// a single multiplexed packet stream and fans messages out by stream
// id to per-stream consumer buffers, broadcasting CLOSE and recording
// sticky format/color messages into a state.Tracker along the way.
package demux

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/state"
)

// BufferSizer returns the consumer buffer capacity to allocate for a
// newly seen stream id, so audio and video streams can be sized
// differently (internal/config's compressed/uncompressed budgets).
type BufferSizer func(id glcfmt.StreamID, header glcfmt.MessageHeader) int

// Demux owns one input buffer and a set of lazily created per-stream
// output buffers. It has no output buffer of its own — unlike a
// generic stage.Worker, its fan-out is 1-to-N rather than 1-to-1 — so
// it implements its own read loop instead of embedding stage.Worker.
type Demux struct {
	Input   *packetstream.Buffer
	Tracker *state.Tracker
	Sizer   BufferSizer

	// OnNewStream, if set, is called exactly once per distinct stream id
	// when Run routes the first message for that id, whether or not a
	// caller already created its consumer buffer through Stream — the
	// hook a player collaborator uses to learn which stream ids exist
	// without polling (spec §6: "Demux hands it a buffer per stream
	// id"). Called from the Run goroutine, never while holding the
	// buffer-map lock, so it may safely call back into Stream.
	OnNewStream func(id glcfmt.StreamID)

	mu        sync.Mutex
	children  map[glcfmt.StreamID]*packetstream.Buffer
	closed    map[glcfmt.StreamID]bool
	announced map[glcfmt.StreamID]bool
}

// New creates a Demux reading from input. tracker may be nil to skip
// sticky-message recording. sizer may be nil, in which case every
// stream gets a 1 MiB consumer buffer.
func New(input *packetstream.Buffer, tracker *state.Tracker, sizer BufferSizer) *Demux {
	if sizer == nil {
		sizer = func(glcfmt.StreamID, glcfmt.MessageHeader) int { return 1 << 20 }
	}
	return &Demux{
		Input:    input,
		Tracker:  tracker,
		Sizer:    sizer,
		children: make(map[glcfmt.StreamID]*packetstream.Buffer),
		closed:    make(map[glcfmt.StreamID]bool),
		announced: make(map[glcfmt.StreamID]bool),
	}
}

// Stream returns the consumer buffer for id, creating it on first
// access so a consumer can attach before any message for that stream
// has arrived.
func (d *Demux) Stream(id glcfmt.StreamID) *packetstream.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamLocked(id)
}

func (d *Demux) streamLocked(id glcfmt.StreamID) *packetstream.Buffer {
	if b, ok := d.children[id]; ok {
		return b
	}
	b := packetstream.NewBuffer(d.Sizer(id, glcfmt.MessageHeader{}))
	d.children[id] = b
	return b
}

// Streams returns the stream ids seen so far, in no particular order.
func (d *Demux) Streams() []glcfmt.StreamID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]glcfmt.StreamID, 0, len(d.children))
	for id := range d.children {
		ids = append(ids, id)
	}
	return ids
}

// Run reads Input until it is closed, canceled, or a top-level CLOSE
// arrives, routing each message to the child buffer named by the
// message's stream id. On return every still-open child buffer
// receives a synthesized CLOSE so downstream consumers unblock.
func (d *Demux) Run(ctx context.Context) error {
	defer d.closeAllChildren()

	for {
		if ctx.Err() != nil {
			return glcerr.ErrCanceled
		}

		msg, err := d.readOne()
		if err != nil {
			if glcerr.IsCancel(err) {
				return nil
			}
			return err
		}

		if err := d.route(msg); err != nil {
			return err
		}
		if msg.header.Type == glcfmt.MessageClose {
			return nil
		}
	}
}

// broadcastStreamID marks the one CLOSE message a file ever carries:
// it has no payload to carry a stream id and applies to every stream
// at once, ending the whole file rather than one stream within it.
const broadcastStreamID glcfmt.StreamID = -1

type rawMessage struct {
	streamID glcfmt.StreamID
	header   glcfmt.MessageHeader
	payload  []byte
}

// readOne decodes the next framed message from Input: the usual
// header + payload, the same layout the File Sink/Source and every
// Stage Worker use. There is no separate stream-id wire field — every
// typed message carries its stream id as the first 4 bytes of its own
// payload (VideoFormatMessage.ID, AudioDataHeader.ID, and so on);
// CLOSE carries no payload at all and is always the one top-level
// marker, never routed to a single stream.
func (d *Demux) readOne() (rawMessage, error) {
	p, err := d.Input.Open(packetstream.ModeRead)
	if err != nil {
		return rawMessage{}, err
	}
	defer p.Close()

	r := packetstream.NewReader(p)
	header, err := glcfmt.DecodeHeader(r)
	if err != nil {
		return rawMessage{}, fmt.Errorf("demux: decode header: %w", err)
	}

	size := p.GetSize() - glcfmt.MessageHeaderSize
	var payload []byte
	if size > 0 {
		payload, err = p.Read(size)
		if err != nil {
			return rawMessage{}, fmt.Errorf("demux: read payload: %w", err)
		}
	}

	id := broadcastStreamID
	if header.Type != glcfmt.MessageClose {
		id = payloadStreamID(payload)
	}

	return rawMessage{streamID: id, header: header, payload: payload}, nil
}

// payloadStreamID extracts the stream id every typed message carries
// as its first 4 bytes.
func payloadStreamID(payload []byte) glcfmt.StreamID {
	if len(payload) < 4 {
		return 0
	}
	return glcfmt.StreamID(binary.LittleEndian.Uint32(payload[0:4]))
}

// route forwards msg to its stream's child buffer (creating it if
// needed), records sticky messages in the Tracker, and broadcasts a
// top-level CLOSE to every child instead of routing it to one.
func (d *Demux) route(msg rawMessage) error {
	if d.Tracker != nil {
		d.Tracker.Submit(msg.streamID, msg.header, msg.payload)
	}

	if msg.streamID == broadcastStreamID {
		d.mu.Lock()
		children := make([]*packetstream.Buffer, 0, len(d.children))
		for id, b := range d.children {
			children = append(children, b)
			d.closed[id] = true
		}
		d.mu.Unlock()
		for _, b := range children {
			if err := writeMessage(b, 0, msg.header, nil); err != nil {
				return err
			}
		}
		return nil
	}

	d.mu.Lock()
	first := !d.announced[msg.streamID]
	d.announced[msg.streamID] = true
	b := d.streamLocked(msg.streamID)
	if msg.header.Type == glcfmt.MessageClose {
		d.closed[msg.streamID] = true
	}
	d.mu.Unlock()

	if first && d.OnNewStream != nil {
		d.OnNewStream(msg.streamID)
	}

	return writeMessage(b, msg.streamID, msg.header, msg.payload)
}

func (d *Demux) closeAllChildren() {
	d.mu.Lock()
	children := make([]*packetstream.Buffer, 0, len(d.children))
	for id, b := range d.children {
		if !d.closed[id] {
			children = append(children, b)
		}
	}
	d.mu.Unlock()

	for _, b := range children {
		_ = writeMessage(b, 0, glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
	}
}

// writeMessage frames header+payload into a single packet on b. The
// payload is written unchanged, so a typed message still carries its
// stream id as its first 4 bytes.
func writeMessage(b *packetstream.Buffer, _ glcfmt.StreamID, header glcfmt.MessageHeader, payload []byte) error {
	p, err := b.Open(packetstream.ModeWrite)
	if err != nil {
		return err
	}
	if err := header.EncodeTo(packetWriter{p}); err != nil {
		_ = p.Close()
		return err
	}
	if len(payload) > 0 {
		if _, err := p.Write(payload); err != nil {
			_ = p.Close()
			return err
		}
	}
	if err := p.SetSize(glcfmt.MessageHeaderSize + len(payload)); err != nil {
		_ = p.Close()
		return err
	}
	return p.Close()
}

type packetWriter struct{ p *packetstream.Packet }

func (w packetWriter) Write(b []byte) (int, error) { return w.p.Write(b) }
