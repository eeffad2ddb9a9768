package encode

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/zsiec/glc/internal/glcfmt"
)

// seekBuffer is an in-memory io.WriteSeeker, standing in for the
// *os.File WAVEncoder targets in cmd/glc-play.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.data) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = s.pos + int(offset)
	case io.SeekEnd:
		newPos = len(s.data) + int(offset)
	default:
		return 0, fmt.Errorf("seekBuffer: bad whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seekBuffer: negative position")
	}
	s.pos = newPos
	return int64(newPos), nil
}

func encodeAudioFormat(t *testing.T, m glcfmt.AudioFormatMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := m.EncodeTo(&buf); err != nil {
		t.Fatalf("encode audio format: %v", err)
	}
	return buf.Bytes()
}

func encodeAudioData(t *testing.T, h glcfmt.AudioDataHeader, samples []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := h.EncodeTo(&buf); err != nil {
		t.Fatalf("encode audio data header: %v", err)
	}
	buf.Write(samples)
	return buf.Bytes()
}

func TestWAVEncoderReservesHeaderThenStreamsSamples(t *testing.T) {
	out := &seekBuffer{}
	enc := NewWAVEncoder(out, nil)

	formatPayload := encodeAudioFormat(t, glcfmt.AudioFormatMessage{
		Rate: 44100, Channels: 1, Format: glcfmt.AudioS16LE,
	})
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageAudioFormat}, formatPayload); err != nil {
		t.Fatalf("Handle(format): %v", err)
	}
	if out.pos != wavHeaderSize {
		t.Fatalf("write position after format = %d, want %d", out.pos, wavHeaderSize)
	}

	first := []byte{1, 2, 3, 4}
	second := []byte{5, 6, 7, 8}
	for _, samples := range [][]byte{first, second} {
		payload := encodeAudioData(t, glcfmt.AudioDataHeader{Size: uint64(len(samples))}, samples)
		if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageAudioData}, payload); err != nil {
			t.Fatalf("Handle(data): %v", err)
		}
	}

	if enc.numFrames != 4 {
		t.Fatalf("numFrames = %d, want 4 (8 bytes / 2 bytes-per-sample / 1 channel)", enc.numFrames)
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(out.data) != wavHeaderSize+len(first)+len(second) {
		t.Fatalf("output length = %d, want %d", len(out.data), wavHeaderSize+len(first)+len(second))
	}
	if string(out.data[0:4]) != "RIFF" {
		t.Fatalf("output does not start with RIFF magic: %v", out.data[0:4])
	}
	gotSamples := out.data[wavHeaderSize:]
	wantSamples := append(append([]byte(nil), first...), second...)
	if !bytes.Equal(gotSamples, wantSamples) {
		t.Fatalf("sample region = %v, want %v", gotSamples, wantSamples)
	}
}

func TestWAVEncoderIgnoresVideoMessages(t *testing.T) {
	out := &seekBuffer{}
	enc := NewWAVEncoder(out, nil)
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Handle(video frame) on unstarted encoder = %v, want nil (ignored)", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on never-started encoder: %v", err)
	}
}
