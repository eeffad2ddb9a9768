package encode

import (
	"bytes"
	"testing"

	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/glcfmt"
)

func encodeVideoFormat(t *testing.T, m glcfmt.VideoFormatMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := m.EncodeTo(&buf); err != nil {
		t.Fatalf("encode video format: %v", err)
	}
	return buf.Bytes()
}

func encodeVideoFrame(t *testing.T, h glcfmt.VideoFrameHeader, pix []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := h.EncodeTo(&buf); err != nil {
		t.Fatalf("encode video frame header: %v", err)
	}
	buf.Write(pix)
	return buf.Bytes()
}

func TestYUV4MPEGWritesStreamHeaderThenFramedPlanes(t *testing.T) {
	var out bytes.Buffer
	enc := NewYUV4MPEGEncoder(&out, 30, config.Config{}, nil)

	formatPayload := encodeVideoFormat(t, glcfmt.VideoFormatMessage{
		Width: 2, Height: 2, Format: glcfmt.VideoYCbCr420Jpg,
	})
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFormat}, formatPayload); err != nil {
		t.Fatalf("Handle(format): %v", err)
	}

	wantHeader := "YUV4MPEG2 W2 H2 F30:1 Ip A1:1 C420jpeg\n"
	if got := out.String(); got != wantHeader {
		t.Fatalf("stream header = %q, want %q", got, wantHeader)
	}

	y := []byte{10, 20, 30, 40}
	cb := []byte{50}
	cr := []byte{60}
	pix := append(append(append([]byte(nil), y...), cb...), cr...)
	framePayload := encodeVideoFrame(t, glcfmt.VideoFrameHeader{}, pix)
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}, framePayload); err != nil {
		t.Fatalf("Handle(frame): %v", err)
	}

	rest := out.String()[len(wantHeader):]
	wantFrame := "FRAME\n" + string(y) + string(cb) + string(cr)
	if rest != wantFrame {
		t.Fatalf("frame bytes = %q, want %q", rest, wantFrame)
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestYUV4MPEGAppliesConfiguredScale(t *testing.T) {
	var out bytes.Buffer
	cfg := config.Config{ScaleWidth: 4, ScaleHeight: 4}
	enc := NewYUV4MPEGEncoder(&out, 30, cfg, nil)

	formatPayload := encodeVideoFormat(t, glcfmt.VideoFormatMessage{
		Width: 2, Height: 2, Format: glcfmt.VideoYCbCr420Jpg,
	})
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFormat}, formatPayload); err != nil {
		t.Fatalf("Handle(format): %v", err)
	}

	wantHeader := "YUV4MPEG2 W4 H4 F30:1 Ip A1:1 C420jpeg\n"
	if got := out.String(); got != wantHeader {
		t.Fatalf("stream header = %q, want %q", got, wantHeader)
	}

	pix := append(append(append([]byte(nil), []byte{10, 20, 30, 40}...), byte(50)), byte(60))
	framePayload := encodeVideoFrame(t, glcfmt.VideoFrameHeader{}, pix)
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}, framePayload); err != nil {
		t.Fatalf("Handle(frame): %v", err)
	}

	rest := out.String()[len(wantHeader):]
	wantLen := len("FRAME\n") + 4*4 + 2*2 + 2*2 // 4x4 Y plane, 2x2 Cb/Cr planes
	if len(rest) != wantLen {
		t.Fatalf("frame bytes len = %d, want %d (scaled to 4x4)", len(rest), wantLen)
	}
}

func TestYUV4MPEGRejectsFrameBeforeFormat(t *testing.T) {
	var out bytes.Buffer
	enc := NewYUV4MPEGEncoder(&out, 30, config.Config{}, nil)
	payload := encodeVideoFrame(t, glcfmt.VideoFrameHeader{}, []byte{1, 2, 3, 4, 5, 6})
	if err := enc.Handle(glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}, payload); err == nil {
		t.Fatalf("Handle(frame) before format = nil, want error")
	}
}
