package glcfmt

import (
	"bytes"
	"testing"
)

func TestFrameRoundTripV4(t *testing.T) {
	t.Parallel()

	f := Frame{Header: MessageHeader{Type: MessageAudioData}, Size: 4, Payload: []byte{1, 2, 3, 4}}
	var buf bytes.Buffer
	if err := f.EncodeTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeFrame(&buf, StreamVersion)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header != f.Header || got.Size != f.Size || !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("got %+v, want %+v", got, f)
	}
}

func TestFrameDecodeV3SwappedOrder(t *testing.T) {
	t.Parallel()

	// v0x3 layout: header byte, then size, then payload.
	var buf bytes.Buffer
	buf.WriteByte(byte(MessageVideoFrame))
	sizeBuf := make([]byte, 8)
	sizeBuf[0] = 3
	buf.Write(sizeBuf)
	buf.Write([]byte{9, 9, 9})

	got, err := DecodeFrame(&buf, 0x3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Type != MessageVideoFrame {
		t.Errorf("header type = %v, want VIDEO_FRAME", got.Header.Type)
	}
	if got.Size != 3 {
		t.Errorf("size = %d, want 3", got.Size)
	}
	if !bytes.Equal(got.Payload, []byte{9, 9, 9}) {
		t.Errorf("payload = %v, want [9 9 9]", got.Payload)
	}
}

func TestFrameCloseMessageEmptyPayload(t *testing.T) {
	t.Parallel()

	f := Frame{Header: MessageHeader{Type: MessageClose}, Size: 0}
	var buf bytes.Buffer
	if err := f.EncodeTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeFrame(&buf, StreamVersion)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Type != MessageClose || got.Size != 0 || len(got.Payload) != 0 {
		t.Errorf("got %+v, want empty CLOSE frame", got)
	}
}
