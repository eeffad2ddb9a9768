package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

// Source reads a capture file written by a Sink and replays its
// messages onto Output as a packet stream, the reverse of Sink. It
// validates the StreamInfo prologue before reading any frames.
type Source struct {
	Output *packetstream.Buffer
	Log    *slog.Logger

	r io.Reader

	Info glcfmt.StreamInfo
	Name string
	Date string
}

// NewSource creates a Source reading r (typically an *os.File) and
// replaying onto output.
func NewSource(r io.Reader, output *packetstream.Buffer, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{Output: output, Log: log, r: r}
}

// Open validates the file's StreamInfo prologue and reads the trailing
// name/date strings, returning glcerr.ErrNotSupported for an
// unrecognized signature or version (spec.md §8 scenario: playback of
// a file from an incompatible glc version).
func (s *Source) Open() error {
	info, err := glcfmt.DecodeStreamInfo(s.r)
	if err != nil {
		return fmt.Errorf("container: decode stream info: %w", err)
	}
	if err := glcfmt.ValidateSignature(info.Signature); err != nil {
		return fmt.Errorf("container: %w: %w", glcerr.ErrNotSupported, err)
	}
	if !glcfmt.SupportedVersion(info.Version) {
		return fmt.Errorf("container: %w: stream version 0x%x", glcerr.ErrNotSupported, info.Version)
	}

	name := make([]byte, info.NameSize)
	if info.NameSize > 0 {
		if _, err := io.ReadFull(s.r, name); err != nil {
			return fmt.Errorf("container: read name: %w", err)
		}
	}
	date := make([]byte, info.DateSize)
	if info.DateSize > 0 {
		if _, err := io.ReadFull(s.r, date); err != nil {
			return fmt.Errorf("container: read date: %w", err)
		}
	}

	s.Info = info
	s.Name = string(name)
	s.Date = string(date)
	return nil
}

// Run replays every frame from the file onto Output until a CLOSE
// frame, a clean EOF between frames (treated as an implicit CLOSE, for
// files a crash left without one), or a truncated frame mid-read —
// which synthesizes a CLOSE after logging, rather than failing the
// whole playback over a partial tail (spec.md §8 scenario 6).
func (s *Source) Run() error {
	for {
		header, size, err := glcfmt.DecodeFrameHeader(s.r, s.Info.Version)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.writeClose()
			}
			s.Log.Warn("unexpected EOF reading frame", "error", err)
			return s.writeClose()
		}

		payload := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(s.r, payload); err != nil {
				s.Log.Warn("unexpected EOF reading payload", "error", err, "want_size", size)
				return s.writeClose()
			}
		}

		if err := s.writeFrame(header, payload); err != nil {
			return err
		}
		if header.Type == glcfmt.MessageClose {
			return nil
		}
	}
}

func (s *Source) writeClose() error {
	return s.writeFrame(glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
}

func (s *Source) writeFrame(header glcfmt.MessageHeader, payload []byte) error {
	p, err := s.Output.Open(packetstream.ModeWrite)
	if err != nil {
		return err
	}
	if err := header.EncodeTo(sourceWriter{p}); err != nil {
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

type sourceWriter struct{ p *packetstream.Packet }

func (w sourceWriter) Write(b []byte) (int, error) { return w.p.Write(b) }
