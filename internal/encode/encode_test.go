package encode

import (
	"testing"

	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

// writeChild appends one header+payload message to b, matching the
// framing internal/demux uses for a stream's own child buffer (no
// stream-id prefix).
func writeChild(t *testing.T, b *packetstream.Buffer, header glcfmt.MessageHeader, payload []byte) {
	t.Helper()
	p, err := b.Open(packetstream.ModeWrite)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	if err := header.EncodeTo(childWriter{p}); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	if len(payload) > 0 {
		if _, err := p.Write(payload); err != nil {
			t.Fatalf("write payload: %v", err)
		}
	}
	if err := p.SetSize(glcfmt.MessageHeaderSize + len(payload)); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type childWriter struct{ p *packetstream.Packet }

func (w childWriter) Write(b []byte) (int, error) { return w.p.Write(b) }

type recordedCall struct {
	header  glcfmt.MessageHeader
	payload []byte
}

type fakeEncoder struct {
	calls  []recordedCall
	closed bool
}

func (f *fakeEncoder) Handle(header glcfmt.MessageHeader, payload []byte) error {
	f.calls = append(f.calls, recordedCall{header: header, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeEncoder) Close() error {
	f.closed = true
	return nil
}

func TestRunDispatchesUntilCloseAndClosesEncoder(t *testing.T) {
	b := packetstream.NewBuffer(1 << 16)
	writeChild(t, b, glcfmt.MessageHeader{Type: glcfmt.MessageAudioFormat}, []byte{1, 2, 3})
	writeChild(t, b, glcfmt.MessageHeader{Type: glcfmt.MessageAudioData}, []byte{4, 5, 6})
	writeChild(t, b, glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)

	enc := &fakeEncoder{}
	if err := Run(b, enc, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(enc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(enc.calls))
	}
	if enc.calls[0].header.Type != glcfmt.MessageAudioFormat {
		t.Fatalf("first call type = %v, want AudioFormat", enc.calls[0].header.Type)
	}
	if enc.calls[2].header.Type != glcfmt.MessageClose {
		t.Fatalf("last call type = %v, want Close", enc.calls[2].header.Type)
	}
	if !enc.closed {
		t.Fatalf("encoder never closed")
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	b := packetstream.NewBuffer(1 << 16)
	b.Cancel()

	enc := &fakeEncoder{}
	if err := Run(b, enc, nil); err != nil {
		t.Fatalf("Run on canceled buffer: %v", err)
	}
	if !enc.closed {
		t.Fatalf("encoder never closed on cancellation")
	}
}
