// Package container implements the File Sink and File Source of spec
// §4.5: the on-disk capture file format (StreamInfo prologue, framed
// messages) and the two Stage Workers that write and read it.
package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/state"
)

// Target is the destination a Sink writes to: a real *os.File in
// production, or any io.Writer + io.Closer with a Truncate method in
// tests.
type Target interface {
	io.Writer
	io.Closer
	Truncate(size int64) error
}

// Sink owns one capture output file. Before its Stage Worker loop
// starts, SetTarget acquires the target exclusively (platform-specific
// advisory locking, see lock_unix.go / lock_other.go), truncates it,
// and writes the StreamInfo prologue. Every message the worker reads
// is recorded in the State Tracker, then framed and appended, except
// CALLBACK_REQUEST (never persisted).
//
// State machine: Idle -> TargetOpen -> InfoWritten -> Running ->
// TargetOpen -> Closed (spec.md §4.7); SetTarget mid-run is how a
// capture session rotates to a fresh file.
type Sink struct {
	Input   *packetstream.Buffer
	Tracker *state.Tracker
	Log     *slog.Logger

	Info StreamInfo

	target  Target
	unlock  func()
	running atomic.Bool
}

// StreamInfo is the caller-supplied half of the file prologue; the
// signature and version are filled in by the Sink.
type StreamInfo struct {
	FPS   float64
	Flags uint32
	PID   uint32
	Name  string // program path, UTF-8
	Date  string // UTC timestamp, UTF-8
}

// NewSink creates a Sink reading from input. Call SetTarget before
// starting Run.
func NewSink(input *packetstream.Buffer, tracker *state.Tracker, info StreamInfo, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{Input: input, Tracker: tracker, Info: info, Log: log}
}

// SetTarget acquires target exclusively, truncates *target* (the newly
// supplied descriptor — the original implementation truncated whatever
// the previous target had been, which spec.md flags as a bug to fix,
// not reproduce), and writes the StreamInfo prologue plus any state
// the Tracker has already accumulated, so the new file is
// self-contained even mid-capture.
func (s *Sink) SetTarget(target Target) error {
	unlock, err := lockTarget(target)
	if err != nil {
		return fmt.Errorf("container: lock target: %w", err)
	}

	if err := target.Truncate(0); err != nil {
		unlock()
		return fmt.Errorf("container: truncate target: %w", err)
	}

	if s.unlock != nil {
		s.unlock()
	}
	s.target = target
	s.unlock = unlock

	if err := s.writeInfo(); err != nil {
		return err
	}
	return s.WriteState()
}

func (s *Sink) writeInfo() error {
	info := glcfmt.StreamInfo{
		Signature: glcfmt.Signature,
		Version:   glcfmt.StreamVersion,
		FPS:       s.Info.FPS,
		Flags:     s.Info.Flags,
		PID:       s.Info.PID,
		NameSize:  uint32(len(s.Info.Name)),
		DateSize:  uint32(len(s.Info.Date)),
	}
	if err := info.EncodeTo(s.target); err != nil {
		return fmt.Errorf("container: write stream info: %w", err)
	}
	if _, err := io.WriteString(s.target, s.Info.Name); err != nil {
		return fmt.Errorf("container: write name: %w", err)
	}
	if _, err := io.WriteString(s.target, s.Info.Date); err != nil {
		return fmt.Errorf("container: write date: %w", err)
	}
	return nil
}

// WriteState replays every entry the State Tracker currently holds
// into the file, so a freshly rotated-to file carries the last-known
// format/color state without waiting for a resend.
func (s *Sink) WriteState() error {
	if s.Tracker == nil {
		return nil
	}
	var writeErr error
	s.Tracker.Iterate(func(e state.Entry) {
		if writeErr != nil {
			return
		}
		writeErr = s.writeFrame(e.Header, e.Payload)
	})
	return writeErr
}

// WriteEOF appends a CLOSE message, the file's end-of-stream marker.
func (s *Sink) WriteEOF() error {
	return s.writeFrame(glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
}

func (s *Sink) writeFrame(header glcfmt.MessageHeader, payload []byte) error {
	f := glcfmt.Frame{Header: header, Size: uint64(len(payload)), Payload: payload}
	if err := f.EncodeTo(s.target); err != nil {
		return fmt.Errorf("container: write frame: %w", err)
	}
	return nil
}

// Running reports whether Run's loop is currently active, for a caller
// (e.g. a status endpoint) polling a Sink's health from another
// goroutine.
func (s *Sink) Running() bool { return s.running.Load() }

// Run drives the Sink's read-only Stage Worker loop: read one message
// at a time from Input, record it, frame it, append it, until
// cancellation or CLOSE.
func (s *Sink) Run() error {
	s.running.Store(true)
	defer s.running.Store(false)

	for {
		p, err := s.Input.Open(packetstream.ModeRead)
		if err != nil {
			if glcerr.IsCancel(err) {
				return nil
			}
			return err
		}

		header, payload, err := readMessage(p)
		_ = p.Close()
		if err != nil {
			return err
		}

		if s.Tracker != nil {
			s.Tracker.Submit(stickyStreamID(payload), header, payload)
		}

		if header.Type == glcfmt.MessageClose {
			return s.WriteEOF()
		}

		// The original implementation special-cased CONTAINER messages,
		// memcpy-ing their already-framed bytes instead of re-synthesizing
		// size+header; here Packet.Read already hands back header and
		// payload uniformly for every message type, so the two paths
		// collapse into one.
		if header.Type != glcfmt.MessageCallbackRequest {
			if err := s.writeFrame(header, payload); err != nil {
				return err
			}
		}
	}
}

// stickyStreamID extracts the stream id every sticky message type
// (VIDEO_FORMAT, AUDIO_FORMAT, COLOR) carries as its first 4 bytes.
// Non-sticky payloads are never looked up by id in the Tracker, so a
// wrong or zero id for them is harmless.
func stickyStreamID(payload []byte) glcfmt.StreamID {
	if len(payload) < 4 {
		return 0
	}
	return glcfmt.StreamID(binary.LittleEndian.Uint32(payload[0:4]))
}

func readMessage(p *packetstream.Packet) (glcfmt.MessageHeader, []byte, error) {
	r := packetstream.NewReader(p)
	header, err := glcfmt.DecodeHeader(r)
	if err != nil {
		return glcfmt.MessageHeader{}, nil, fmt.Errorf("container: decode header: %w", err)
	}
	size := p.GetSize() - glcfmt.MessageHeaderSize
	var payload []byte
	if size > 0 {
		payload, err = p.Read(size)
		if err != nil {
			return glcfmt.MessageHeader{}, nil, fmt.Errorf("container: read payload: %w", err)
		}
	}
	return header, payload, nil
}

// Close releases the current target's lock, if any.
func (s *Sink) Close() error {
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
	if s.target != nil {
		return s.target.Close()
	}
	return nil
}
