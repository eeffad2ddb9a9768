// Package encode implements the reference encoders spec.md §6 names as
// the "output to player collaborator" contract: a stable interface any
// per-stream consumer of a demuxed packet stream implements, plus three
// worked implementations (WAV, YUV4MPEG, PNG sequence) that cmd/glc-play
// drives directly. The interface is the part this package truly owns;
// a real desktop player or transcoder is free to supply its own Encoder
// instead of one of these.
package encode

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

// Encoder consumes the demuxed messages for a single stream, in the
// order Demux delivered them: exactly one *_FORMAT message, then any
// number of data/frame messages, then CLOSE. Each payload arrives as
// Demux read it, still starting with the message's own stream id
// field; a child buffer carries a single stream, so Encoder never needs
// to know its own id.
type Encoder interface {
	// Handle processes one message. Implementations ignore message
	// types outside their domain (e.g. a WAV encoder ignores
	// VIDEO_FRAME) rather than erroring, since a stream can legitimately
	// carry sticky COLOR messages a given encoder has no use for.
	Handle(header glcfmt.MessageHeader, payload []byte) error
	// Close flushes and releases whatever destination Handle has been
	// writing to. Called once, after a CLOSE message is handled.
	Close() error
}

// Run reads one stream's demuxed messages from input until CLOSE or
// cancellation, dispatching each to enc, and closes enc before
// returning. It is the glue cmd/glc-play runs once per stream,
// typically from its own goroutine.
func Run(input *packetstream.Buffer, enc Encoder, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	for {
		msg, err := readOne(input)
		if err != nil {
			if glcerr.IsCancel(err) {
				return enc.Close()
			}
			_ = enc.Close()
			return err
		}

		if err := enc.Handle(msg.header, msg.payload); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode: handle %s: %w", msg.header.Type, err)
		}
		if msg.header.Type == glcfmt.MessageClose {
			log.Debug("encode: stream closed")
			return enc.Close()
		}
	}
}

type message struct {
	header  glcfmt.MessageHeader
	payload []byte
}

// ReadOne reads a single header+payload off a demux child buffer, for a
// caller (cmd/glc-play) that needs to inspect the first message —
// VIDEO_FORMAT or AUDIO_FORMAT — before deciding which Encoder a stream
// gets, ahead of handing the rest of the stream to Run.
func ReadOne(b *packetstream.Buffer) (glcfmt.MessageHeader, []byte, error) {
	m, err := readOne(b)
	return m.header, m.payload, err
}

// readOne reads the next header+payload from a demux child buffer.
func readOne(b *packetstream.Buffer) (message, error) {
	p, err := b.Open(packetstream.ModeRead)
	if err != nil {
		return message{}, err
	}
	defer p.Close()

	r := packetstream.NewReader(p)
	header, err := glcfmt.DecodeHeader(r)
	if err != nil {
		return message{}, fmt.Errorf("decode header: %w", err)
	}

	size := p.GetSize() - glcfmt.MessageHeaderSize
	var payload []byte
	if size > 0 {
		payload, err = p.Read(size)
		if err != nil {
			return message{}, fmt.Errorf("read payload: %w", err)
		}
	}
	return message{header: header, payload: payload}, nil
}
