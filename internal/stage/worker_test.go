package stage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

var errBoom = errors.New("stage: boom")

// writeMessage writes one framed message (header + payload) into buf
// via a throwaway write-mode Packet, bypassing any Worker.
func writeMessage(t *testing.T, buf *packetstream.Buffer, typ glcfmt.MessageType, payload []byte) {
	t.Helper()
	p, err := buf.Open(packetstream.ModeWrite)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	h := glcfmt.MessageHeader{Type: typ}
	if err := h.EncodeTo(packetWriter{p}); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	if len(payload) > 0 {
		if _, err := p.Write(payload); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := p.SetSize(glcfmt.MessageHeaderSize + len(payload)); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// readMessage reads one framed message back out, returning its header
// type and payload.
func readMessage(t *testing.T, buf *packetstream.Buffer) (glcfmt.MessageType, []byte) {
	t.Helper()
	p, err := buf.Open(packetstream.ModeRead)
	if err != nil {
		t.Fatalf("Open(read): %v", err)
	}
	r := packetstream.NewReader(p)
	h, err := glcfmt.DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	size := p.GetSize() - glcfmt.MessageHeaderSize
	var payload []byte
	if size > 0 {
		payload, err = io.ReadAll(io.LimitReader(limitedReader{p}, int64(size)))
		if err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return h.Type, payload
}

type limitedReader struct{ p *packetstream.Packet }

func (r limitedReader) Read(b []byte) (int, error) {
	data, err := r.p.Read(len(b))
	if err != nil {
		return 0, io.EOF
	}
	return copy(b, data), nil
}

// TestWorkerOrderPreservation feeds a random sequence of variably sized
// messages through a copying Worker running with a random number of
// parallel goroutines, and asserts the output header/payload sequence
// exactly matches the input sequence (spec §8 scenario 5): the
// openMu-serialized write-open order must track the read-open order
// regardless of how many goroutines race to process messages.
func TestWorkerOrderPreservation(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 8; trial++ {
		threads := 1 + rng.Intn(6)
		n := 20 + rng.Intn(40)

		type msg struct {
			typ     glcfmt.MessageType
			payload []byte
		}
		want := make([]msg, n)
		for i := range want {
			sz := rng.Intn(64)
			p := make([]byte, sz)
			rng.Read(p)
			want[i] = msg{typ: glcfmt.MessageVideoFrame, payload: p}
		}

		in := packetstream.NewBuffer(256)
		out := packetstream.NewBuffer(256)

		w := &Worker{
			Input:   in,
			Output:  out,
			Flags:   FlagRead | FlagWrite | FlagCopy,
			Threads: threads,
		}

		done := make(chan error, 1)
		go func() { done <- w.Run(context.Background()) }()

		go func() {
			for _, m := range want {
				writeMessage(t, in, m.typ, m.payload)
			}
			writeMessage(t, in, glcfmt.MessageClose, nil)
		}()

		for i, m := range want {
			gotType, gotPayload := readMessage(t, out)
			if gotType != m.typ {
				t.Fatalf("trial %d msg %d: type = %v, want %v", trial, i, gotType, m.typ)
			}
			if !bytes.Equal(gotPayload, m.payload) {
				t.Fatalf("trial %d msg %d: payload mismatch", trial, i)
			}
		}
		closeType, _ := readMessage(t, out)
		if closeType != glcfmt.MessageClose {
			t.Fatalf("trial %d: final message type = %v, want CLOSE", trial, closeType)
		}

		if err := <-done; err != nil {
			t.Fatalf("trial %d: Run() = %v", trial, err)
		}
	}
}

// TestWorkerFinishCallback checks that Finish runs exactly once, after
// every goroutine has exited, regardless of thread count.
func TestWorkerFinishCallback(t *testing.T) {
	t.Parallel()

	in := packetstream.NewBuffer(64)
	out := packetstream.NewBuffer(64)

	finishCount := 0
	var finishErr error
	w := &Worker{
		Input:   in,
		Output:  out,
		Flags:   FlagRead | FlagWrite | FlagCopy,
		Threads: 4,
		Callbacks: Callbacks{
			Finish: func(err error) {
				finishCount++
				finishErr = err
			},
		},
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	go func() { writeMessage(t, in, glcfmt.MessageClose, nil) }()

	typ, _ := readMessage(t, out)
	if typ != glcfmt.MessageClose {
		t.Fatalf("type = %v, want CLOSE", typ)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if finishCount != 1 {
		t.Fatalf("Finish called %d times, want 1", finishCount)
	}
	if finishErr != nil {
		t.Fatalf("Finish err = %v, want nil", finishErr)
	}
}

// TestWorkerCancelPropagation checks that a callback error cancels both
// buffers, sets the cancel flag, and is surfaced by Run.
func TestWorkerCancelPropagation(t *testing.T) {
	t.Parallel()

	in := packetstream.NewBuffer(64)
	out := packetstream.NewBuffer(64)

	w := &Worker{
		Input:   in,
		Output:  out,
		Flags:   FlagRead | FlagWrite,
		Threads: 2,
		Callbacks: Callbacks{
			Read: func(s *State) error {
				s.WriteSize = len(s.ReadData)
				return nil
			},
			Write: func(s *State, dst []byte) error {
				return errBoom
			},
		},
	}
	w.Cancel = NewCancelFlag()

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	p, err := in.Open(packetstream.ModeWrite)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	h := glcfmt.MessageHeader{Type: glcfmt.MessageVideoFrame}
	_ = h.EncodeTo(packetWriter{p})
	_, _ = p.Write([]byte{1, 2, 3})
	_ = p.SetSize(glcfmt.MessageHeaderSize + 3)
	_ = p.Close()

	if err := <-done; err == nil {
		t.Fatal("Run() = nil, want an error")
	}
	if !in.Canceled() {
		t.Error("input buffer not canceled after callback error")
	}
	if !out.Canceled() {
		t.Error("output buffer not canceled after callback error")
	}
	if !w.Cancel.IsSet() {
		t.Error("cancel flag not set after callback error")
	}
}
