// Package capture implements the Audio Capturer of spec §4.3: one
// record per host PCM handle, a single-element handoff to a dedicated
// writer goroutine, and a mutex/spinlock split chosen per-stream by
// whether the host may call in from a signal-unsafe async context.
package capture

import (
	"bytes"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

// Access describes how a PCM handle's samples are laid out across
// capture calls.
type Access int

const (
	AccessInterleaved Access = iota
	AccessNonInterleaved
	AccessMMAPComplex
)

// State is a stream's position in the Fresh -> FormatKnown ->
// Initialised <-> Initialised' -> Closed machine of spec.md §4.7.
type State int

const (
	StateFresh State = iota
	StateFormatKnown
	StateInitialised
	StateClosed
)

// Handle identifies a host PCM handle. The caller picks the value (a
// pointer address, a file descriptor, anything comparable); Capturer
// assigns the wire-level glcfmt.StreamID independently.
type Handle uint64

// Options configures a stream's threading discipline at Open time.
type Options struct {
	// Async marks a stream whose capture calls may arrive from a
	// signal-unsafe context: it gets a spinlock + busy-wait instead of
	// a mutex + blocking semaphore.
	Async bool
	// AllowSkip makes a not-ready writer cause the capture call to
	// drop its buffer and log a warning instead of waiting.
	AllowSkip bool
}

// Capturer owns the writer-facing output buffer and the set of active
// streams, keyed by the host's opaque Handle.
type Capturer struct {
	Output *packetstream.Buffer
	Log    *slog.Logger

	mu      sync.Mutex
	streams map[Handle]*Stream
	started bool
	nextID  int32
}

// NewCapturer creates a Capturer writing onto output — typically the
// shared multiplexed buffer a Demux reads from, so every emitted
// message is prefixed with its stream id.
func NewCapturer(output *packetstream.Buffer, log *slog.Logger) *Capturer {
	if log == nil {
		log = slog.Default()
	}
	return &Capturer{
		Output:  output,
		Log:     log.With("component", "capture"),
		streams: make(map[Handle]*Stream),
	}
}

// Open creates a stream record for handle. Calling Open twice for the
// same handle without an intervening Close is a programming error.
func (c *Capturer) Open(handle Handle, opts Options) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.streams[handle]; exists {
		return nil, glcerr.ErrAlready
	}
	c.nextID++
	s := &Stream{
		id:        c.nextID,
		capturer:  c,
		handle:    handle,
		async:     opts.Async,
		allowSkip: opts.AllowSkip,
		state:     StateFresh,
		log:       c.Log.With("stream_id", c.nextID, "async", opts.Async),
	}
	c.streams[handle] = s
	return s, nil
}

// Start marks the pipeline as running: every stream already
// format-known is initialised immediately, and any stream that later
// reaches FormatKnown via HWParams self-initialises instead of
// waiting for a subsequent Start call (spec.md §4.3: "if the pipeline
// is already started, (re)initialize the stream").
func (c *Capturer) Start() error {
	c.mu.Lock()
	c.started = true
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		ready := s.state == StateFormatKnown
		s.mu.Unlock()
		if ready {
			if err := s.initialise(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown closes every open stream and appends a top-level CLOSE to
// Output so a downstream Demux unwinds cleanly.
func (c *Capturer) Shutdown() error {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return c.writeMessage(0, glcfmt.MessageClose, nil)
}

// Stream is one host PCM handle's capture state.
type Stream struct {
	id       glcfmt.StreamID
	capturer *Capturer
	handle   Handle
	log      *slog.Logger

	async     bool
	allowSkip bool

	mu     sync.Mutex
	state  State
	access Access
	format uint8
	rate   uint32
	chans  uint32

	mmapAreas [][]byte

	syncState  *syncSlot
	asyncState *asyncSlot

	running atomic.Bool
	stopCh  chan struct{} // closed to ask the current writerLoop generation to exit
	doneCh  chan struct{} // closed by that same generation's writerLoop on exit
}

// syncSlot is the mutex + counting-semaphore handoff for a normal
// (non-async) stream: empty/full each hold at most one token.
type syncSlot struct {
	mu    sync.Mutex
	empty chan struct{}
	full  chan struct{}
	buf   []byte
	ts    glcfmt.Time
}

func newSyncSlot() *syncSlot {
	s := &syncSlot{empty: make(chan struct{}, 1), full: make(chan struct{}, 1)}
	s.empty <- struct{}{}
	return s
}

// asyncSlot is the spinlock + busy-ready-flag handoff for a stream
// whose capture calls may arrive from a signal-unsafe context: no
// blocking primitive is touched on the producer side.
type asyncSlot struct {
	spin  atomic.Bool // guards buf/ts
	ready atomic.Bool // true: slot is free, producer may deposit
	full  chan struct{}
	buf   []byte
	ts    glcfmt.Time
}

func newAsyncSlot() *asyncSlot {
	a := &asyncSlot{full: make(chan struct{}, 1)}
	a.ready.Store(true)
	return a
}

// HWParams records the stream's sample format, extracted from the
// host's hw_params call. An unsupported format or access returns
// ErrNotSupported; if the pipeline has already started, the stream is
// (re)initialised immediately instead of waiting for Start.
func (s *Stream) HWParams(rate, channels uint32, format uint8, access Access) error {
	if !validFormat(format) {
		return glcerr.ErrNotSupported
	}
	if access < AccessInterleaved || access > AccessMMAPComplex {
		return glcerr.ErrNotSupported
	}

	s.capturer.mu.Lock()
	started := s.capturer.started
	s.capturer.mu.Unlock()

	s.mu.Lock()
	s.rate, s.chans, s.format, s.access = rate, channels, format, access
	wasInitialised := s.state == StateInitialised
	s.state = StateFormatKnown
	s.mu.Unlock()

	if started || wasInitialised {
		return s.initialise()
	}
	return nil
}

func (s *Stream) initialise() error {
	s.mu.Lock()
	already := s.state == StateInitialised
	s.mu.Unlock()
	if already {
		return nil
	}

	// A reconfigure (HWParams called again on an already-initialised
	// stream, spec.md §4.7's Initialised -> Initialised' edge) must tear
	// down and join the previous writer goroutine before a new one is
	// spawned for the new format. Without this, the old writerLoop stays
	// parked on its now-orphaned slot until Close, leaking one goroutine
	// per reconfigure and re-emitting AUDIO_FORMAT with no teardown of
	// the stream it replaces.
	s.stopCurrentWriter()

	s.mu.Lock()
	if s.async {
		s.asyncState = newAsyncSlot()
	} else {
		s.syncState = newSyncSlot()
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = StateInitialised
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.running.Store(true)
	go s.writerLoop(stopCh, doneCh)
	return nil
}

// stopCurrentWriter signals the active writer goroutine, if any, and
// blocks until it has exited. Called from both initialise (tearing down
// the previous generation before a reconfigure spawns a new one) and
// Close (tearing down the last generation for good).
func (s *Stream) stopCurrentWriter() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(stopCh)
	<-doneCh
}

// WriteI copies frames*bytesPerFrame interleaved bytes out of samples.
func (s *Stream) WriteI(samples []byte, frames int) error {
	s.mu.Lock()
	ready := s.state == StateInitialised
	access := s.access
	n := frames * frameSize(s.format, s.chans)
	s.mu.Unlock()
	if !ready {
		return glcerr.ErrInval
	}
	if access != AccessInterleaved {
		return glcerr.ErrInval
	}
	if n > len(samples) {
		return glcerr.ErrInval
	}
	return s.handoff(samples[:n])
}

// WriteN copies frames from per-channel buffers, rejected if the
// stream was initialised as interleaved.
func (s *Stream) WriteN(bufs [][]byte, frames int) error {
	s.mu.Lock()
	ready := s.state == StateInitialised
	access := s.access
	bps := sampleSize(s.format)
	channels := int(s.chans)
	s.mu.Unlock()
	if !ready {
		return glcerr.ErrInval
	}
	if access == AccessInterleaved {
		return glcerr.ErrInval
	}
	if len(bufs) != channels {
		return glcerr.ErrInval
	}

	n := frames * bps
	out := make([]byte, 0, n*channels)
	for _, buf := range bufs {
		if len(buf) < n {
			return glcerr.ErrInval
		}
		out = append(out, buf[:n]...)
	}
	return s.handoff(out)
}

// MmapBegin snapshots the areas pointer the host handed back for this
// mmap period; the matching MmapCommit receives its own offset and
// frame count directly, so they aren't retained here.
func (s *Stream) MmapBegin(areas [][]byte, _, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitialised || s.access != AccessMMAPComplex {
		return glcerr.ErrInval
	}
	s.mmapAreas = areas
	return nil
}

// MmapCommit harvests frames samples starting at offset from the areas
// snapshotted by MmapBegin, transposing per-channel strides into
// interleaved bytes on the fly.
func (s *Stream) MmapCommit(offset, frames int) error {
	s.mu.Lock()
	if s.state != StateInitialised || s.access != AccessMMAPComplex {
		s.mu.Unlock()
		return glcerr.ErrInval
	}
	areas := s.mmapAreas
	bps := sampleSize(s.format)
	channels := int(s.chans)
	s.mu.Unlock()

	if len(areas) != channels {
		return glcerr.ErrInval
	}

	out := make([]byte, frames*channels*bps)
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			src := areas[ch]
			start := (offset + frame) * bps
			if start+bps > len(src) {
				return glcerr.ErrInval
			}
			dst := (frame*channels + ch) * bps
			copy(out[dst:dst+bps], src[start:start+bps])
		}
	}
	return s.handoff(out)
}

// Close marks the stream format-unready so it is not re-initialised,
// and stops its writer goroutine.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.stopCurrentWriter()

	s.capturer.mu.Lock()
	delete(s.capturer.streams, s.handle)
	s.capturer.mu.Unlock()
	return nil
}

// handoff hands payload to the writer goroutine via the stream's
// slow-path mutex+semaphore or fast-path spinlock+busy-wait, per
// spec.md §4.3's handoff discipline.
func (s *Stream) handoff(payload []byte) error {
	ts := glcfmt.Time(time.Now().UnixMicro())

	if s.async {
		return s.handoffAsync(payload, ts)
	}
	return s.handoffSync(payload, ts)
}

func (s *Stream) handoffSync(payload []byte, ts glcfmt.Time) error {
	slot := s.syncState
	<-slot.empty

	slot.mu.Lock()
	if cap(slot.buf) < len(payload) {
		slot.buf = make([]byte, len(payload))
	}
	slot.buf = slot.buf[:len(payload)]
	copy(slot.buf, payload)
	slot.ts = ts
	slot.mu.Unlock()

	slot.full <- struct{}{}
	return nil
}

func (s *Stream) handoffAsync(payload []byte, ts glcfmt.Time) error {
	slot := s.asyncState

	for !slot.ready.Load() {
		if s.allowSkip {
			s.log.Warn("writer not ready, dropping buffer")
			return glcerr.ErrBusy
		}
		runtime.Gosched()
	}

	for !slot.spin.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	if cap(slot.buf) < len(payload) {
		slot.buf = make([]byte, len(payload))
	}
	slot.buf = slot.buf[:len(payload)]
	copy(slot.buf, payload)
	slot.ts = ts
	slot.spin.Store(false)
	slot.ready.Store(false)

	select {
	case slot.full <- struct{}{}:
	default:
	}
	return nil
}

// writerLoop emits AUDIO_FORMAT once, then drains the handoff slot and
// emits one AUDIO_DATA message per delivery until stopCh is closed
// (Close, or a reconfigure tearing down this generation for the next).
// stopCh/doneCh are passed in rather than read off s, the generation
// they belong to, so a concurrent reconfigure reassigning s.stopCh
// never races with this goroutine's own reads of it.
func (s *Stream) writerLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	if err := s.emitFormat(); err != nil {
		s.log.Error("emit audio format", "error", err)
		return
	}

	for {
		var fullCh chan struct{}
		if s.async {
			fullCh = s.asyncState.full
		} else {
			fullCh = s.syncState.full
		}

		select {
		case <-fullCh:
			data, ts := s.drain()
			if err := s.emitData(data, ts); err != nil {
				s.log.Error("emit audio data", "error", err)
				return
			}
			if !s.async {
				s.syncState.empty <- struct{}{}
			} else {
				s.asyncState.ready.Store(true)
			}
		case <-stopCh:
			return
		}
	}
}

func (s *Stream) drain() ([]byte, glcfmt.Time) {
	if s.async {
		slot := s.asyncState
		for !slot.spin.CompareAndSwap(false, true) {
			runtime.Gosched()
		}
		data := append([]byte(nil), slot.buf...)
		ts := slot.ts
		slot.spin.Store(false)
		return data, ts
	}
	slot := s.syncState
	slot.mu.Lock()
	data := append([]byte(nil), slot.buf...)
	ts := slot.ts
	slot.mu.Unlock()
	return data, ts
}

func (s *Stream) emitFormat() error {
	s.mu.Lock()
	msg := glcfmt.AudioFormatMessage{
		ID:       s.id,
		Flags:    formatFlags(s.access),
		Rate:     s.rate,
		Channels: s.chans,
		Format:   s.format,
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := msg.EncodeTo(&buf); err != nil {
		return err
	}
	return s.capturer.writeMessage(s.id, glcfmt.MessageAudioFormat, buf.Bytes())
}

func (s *Stream) emitData(data []byte, ts glcfmt.Time) error {
	header := glcfmt.AudioDataHeader{ID: s.id, Time: ts, Size: uint64(len(data))}
	var buf bytes.Buffer
	if err := header.EncodeTo(&buf); err != nil {
		return err
	}
	buf.Write(data)
	return s.capturer.writeMessage(s.id, glcfmt.MessageAudioData, buf.Bytes())
}

// writeMessage frames payload behind the usual one-byte header, the
// same header+payload layout every other stage (Compressor, File Sink,
// Demux) reads: the stream id is never a separate wire field, it is
// always the first 4 bytes of a typed message's own payload (see
// AudioFormatMessage.ID, AudioDataHeader.ID). The streamID parameter
// exists only so call sites read naturally; it plays no part in the
// bytes written here.
func (c *Capturer) writeMessage(streamID glcfmt.StreamID, typ glcfmt.MessageType, payload []byte) error {
	p, err := c.Output.Open(packetstream.ModeWrite)
	if err != nil {
		return err
	}

	h := glcfmt.MessageHeader{Type: typ}
	if err := h.EncodeTo(captureWriter{p}); err != nil {
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

type captureWriter struct{ p *packetstream.Packet }

func (w captureWriter) Write(b []byte) (int, error) { return w.p.Write(b) }

func validFormat(format uint8) bool {
	switch format {
	case glcfmt.AudioS16LE, glcfmt.AudioS24LE, glcfmt.AudioS32LE:
		return true
	default:
		return false
	}
}

func sampleSize(format uint8) int {
	switch format {
	case glcfmt.AudioS16LE:
		return 2
	case glcfmt.AudioS24LE:
		return 3
	case glcfmt.AudioS32LE:
		return 4
	default:
		return 0
	}
}

func frameSize(format uint8, channels uint32) int {
	return sampleSize(format) * int(channels)
}

func formatFlags(access Access) uint32 {
	if access == AccessNonInterleaved {
		return 0
	}
	return glcfmt.AudioInterleaved
}
