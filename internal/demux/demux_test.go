package demux

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/state"
)

// writeDemuxInput writes one message the way a real glcfmt payload does:
// the stream id as the first 4 bytes of the payload itself, never a
// separate wire field. CLOSE carries no payload, so id is ignored for it.
func writeDemuxInput(t *testing.T, b *packetstream.Buffer, id glcfmt.StreamID, header glcfmt.MessageHeader, extra []byte) {
	t.Helper()
	p, err := b.Open(packetstream.ModeWrite)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	if err := header.EncodeTo(packetWriter{p}); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	var payload []byte
	if header.Type != glcfmt.MessageClose {
		var idBuf [4]byte
		binary.LittleEndian.PutUint32(idBuf[:], uint32(id))
		payload = append(idBuf[:], extra...)
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

func readChildMessage(t *testing.T, b *packetstream.Buffer) (glcfmt.MessageType, []byte) {
	t.Helper()
	p, err := b.Open(packetstream.ModeRead)
	if err != nil {
		t.Fatalf("Open(read): %v", err)
	}
	defer p.Close()
	r := packetstream.NewReader(p)
	h, err := glcfmt.DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	size := p.GetSize() - glcfmt.MessageHeaderSize
	var payload []byte
	if size > 0 {
		payload, err = p.Read(size)
		if err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return h.Type, payload
}

func TestDemuxRoutesByStreamID(t *testing.T) {
	t.Parallel()

	in := packetstream.NewBuffer(256)
	tr := state.New()
	d := New(in, tr, nil)

	go func() {
		writeDemuxInput(t, in, 1, glcfmt.MessageHeader{Type: glcfmt.MessageAudioData}, []byte("a1"))
		writeDemuxInput(t, in, 2, glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}, []byte("v2"))
		writeDemuxInput(t, in, 0, glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
	}()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	stream1 := d.Stream(1)
	stream2 := d.Stream(2)

	typ, payload := readChildMessage(t, stream1)
	if typ != glcfmt.MessageAudioData || string(payload[4:]) != "a1" {
		t.Fatalf("stream1 got (%v, %q)", typ, payload)
	}
	typ, payload = readChildMessage(t, stream2)
	if typ != glcfmt.MessageVideoFrame || string(payload[4:]) != "v2" {
		t.Fatalf("stream2 got (%v, %q)", typ, payload)
	}

	// The broadcast CLOSE must unblock every already-created child.
	typ1, _ := readChildMessage(t, stream1)
	typ2, _ := readChildMessage(t, stream2)
	if typ1 != glcfmt.MessageClose || typ2 != glcfmt.MessageClose {
		t.Fatalf("close not broadcast: stream1=%v stream2=%v", typ1, typ2)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestDemuxCallsOnNewStreamOncePerID(t *testing.T) {
	t.Parallel()

	in := packetstream.NewBuffer(256)
	d := New(in, nil, nil)

	var mu sync.Mutex
	var seen []glcfmt.StreamID
	d.OnNewStream = func(id glcfmt.StreamID) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}

	go func() {
		writeDemuxInput(t, in, 1, glcfmt.MessageHeader{Type: glcfmt.MessageAudioData}, []byte("a1"))
		writeDemuxInput(t, in, 1, glcfmt.MessageHeader{Type: glcfmt.MessageAudioData}, []byte("a2"))
		writeDemuxInput(t, in, 0, glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
	}()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	stream1 := d.Stream(1)
	readChildMessage(t, stream1)
	readChildMessage(t, stream1)
	readChildMessage(t, stream1)

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("OnNewStream calls = %v, want exactly one call with id 1", seen)
	}
}

func TestDemuxRecordsStickyMessages(t *testing.T) {
	t.Parallel()

	in := packetstream.NewBuffer(256)
	tr := state.New()
	d := New(in, tr, nil)

	go func() {
		writeDemuxInput(t, in, 1, glcfmt.MessageHeader{Type: glcfmt.MessageVideoFormat}, []byte("fmt"))
		writeDemuxInput(t, in, 0, glcfmt.MessageHeader{Type: glcfmt.MessageClose}, nil)
	}()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	stream1 := d.Stream(1)
	readChildMessage(t, stream1) // format
	readChildMessage(t, stream1) // close

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var recorded []glcfmt.MessageType
	tr.Iterate(func(e state.Entry) { recorded = append(recorded, e.Header.Type) })
	if len(recorded) != 1 || recorded[0] != glcfmt.MessageVideoFormat {
		t.Fatalf("tracker recorded %v, want [VideoFormat]", recorded)
	}
}
