// Package stage implements the generic multi-threaded Stage Worker:
// N parallel goroutines each pull one packet from an input buffer,
// dispatch per-message callbacks, and push one packet to an output
// buffer while preserving the input's message order. See spec §4.2.
package stage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
)

// Flags control which sides of the worker are active and how the
// output packet's size is determined.
type Flags uint32

const (
	// FlagRead enables the read side: the worker consumes from Input.
	FlagRead Flags = 1 << iota
	// FlagWrite enables the write side: the worker produces to Output.
	FlagWrite
	// FlagCopy copies the read payload unchanged instead of invoking
	// the Write callback.
	FlagCopy
	// FlagUnknownFinalSize suppresses the immediate SetSize call after
	// sizing the write packet, for write callbacks that cannot predict
	// their output size ahead of time.
	FlagUnknownFinalSize
)

// State is the per-iteration mutable context threaded through a single
// message's callbacks — the Go equivalent of the design's "capability
// set parameterized over a shared mutable state value".
type State struct {
	Header    glcfmt.MessageHeader
	ReadData  []byte // the read packet's payload, header stripped
	ReadSize  int
	WriteSize int
	SkipRead  bool
	SkipWrite bool
	Stop      bool

	// Copy, when set by Open/Header/Read, copies ReadData straight
	// through on the write side for this one message instead of
	// invoking the Write callback — the per-message analogue of the
	// worker-level FlagCopy, used by stages that only transform some
	// message types (e.g. the Compressor's below-threshold passthrough).
	Copy bool

	// ThreadState is the value returned by Callbacks.ThreadCreate for
	// the goroutine running this iteration, or nil if unset.
	ThreadState any
}

// Callbacks is the capability set a Stage Worker dispatches through.
// Every field is optional; a nil callback is simply skipped.
type Callbacks struct {
	// Open runs first each iteration. It may set State.SkipRead,
	// State.SkipWrite, or State.Stop.
	Open func(s *State) error
	// Header runs after the message header is decoded, before Read.
	Header func(s *State) error
	// Read runs after State.ReadData is populated via DMA.
	Read func(s *State) error
	// Write fills dst (a DMA region of State.WriteSize bytes) unless
	// FlagCopy is set, in which case the read payload is copied
	// through unchanged and Write is not called. When FlagUnknownFinalSize
	// is set, WriteSize was a worst-case reservation; Write must shrink
	// State.WriteSize to the number of bytes it actually used before
	// returning, and the unused tail is reclaimed automatically.
	Write func(s *State, dst []byte) error
	// Close runs after both packets are closed for this iteration.
	Close func(s *State) error

	// ThreadCreate runs once per goroutine at startup, returning a
	// per-thread state value (e.g. compression scratch memory) that is
	// attached to every State.ThreadState for that goroutine.
	ThreadCreate func() (any, error)
	// ThreadFinish runs once per goroutine at exit.
	ThreadFinish func(threadState any, err error)
	// Finish runs exactly once, invoked by the last goroutine to exit,
	// with the first non-cancel error observed by any goroutine (nil
	// if none).
	Finish func(err error)
}

// Worker binds an input buffer, an optional output buffer, a
// Callbacks capability set, and a thread count, implementing the
// consumer/producer loop of spec §4.2.
type Worker struct {
	Input   *packetstream.Buffer
	Output  *packetstream.Buffer
	Flags   Flags
	Threads int
	Cancel  *CancelFlag

	Callbacks Callbacks

	openMu      sync.Mutex
	stopRequest atomic.Bool
}

// RequestStop asks every goroutine to exit after finishing its current
// iteration (spec §4.2 step 7: "the stage was asked to stop").
func (w *Worker) RequestStop() { w.stopRequest.Store(true) }

// Run spawns Threads goroutines and blocks until all of them exit. It
// returns the first non-cancel error observed (nil on a clean run or a
// cancellation-driven shutdown).
func (w *Worker) Run(ctx context.Context) error {
	if w.Threads < 1 {
		w.Threads = 1
	}
	if w.Cancel == nil {
		w.Cancel = NewCancelFlag()
	}

	var (
		wg       sync.WaitGroup
		finishMu sync.Mutex
		firstErr error
		running  = w.Threads
	)

	for t := 0; t < w.Threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var threadState any
			var err error
			if w.Callbacks.ThreadCreate != nil {
				threadState, err = w.Callbacks.ThreadCreate()
				if err != nil {
					w.fail(err)
				}
			}

			if err == nil {
				err = w.loop(ctx, threadState)
			}

			if w.Callbacks.ThreadFinish != nil {
				w.Callbacks.ThreadFinish(threadState, err)
			}

			finishMu.Lock()
			if err != nil && !glcerr.IsCancel(err) && firstErr == nil {
				firstErr = err
			}
			running--
			last := running == 0
			finishMu.Unlock()

			if last && w.Callbacks.Finish != nil {
				w.Callbacks.Finish(firstErr)
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// fail is the error path shared by ThreadCreate failures and loop
// iteration failures: it latches the global cancel flag and tears
// down both buffers, exactly as spec §4.2/§7 describe.
func (w *Worker) fail(err error) {
	if glcerr.IsCancel(err) {
		return
	}
	w.Cancel.Set()
	if w.Input != nil {
		w.Input.Cancel()
	}
	if w.Output != nil {
		w.Output.Cancel()
	}
}

func (w *Worker) loop(ctx context.Context, threadState any) error {
	for {
		if ctx.Err() != nil {
			return glcerr.ErrCanceled
		}
		if w.Cancel.IsSet() {
			return glcerr.ErrCanceled
		}
		if w.stopRequest.Load() {
			return nil
		}

		stop, err := w.iterate(threadState)
		if err != nil {
			if !glcerr.IsCancel(err) {
				w.fail(err)
			}
			return err
		}
		if stop {
			return nil
		}
	}
}

// iterate runs exactly one pass of the seven-step loop in spec §4.2.
// It returns stop=true when the caller should exit after this
// iteration (a CLOSE message, an Open callback's Stop flag, or a
// RequestStop that landed mid-iteration).
func (w *Worker) iterate(threadState any) (stop bool, err error) {
	st := &State{ThreadState: threadState}

	if w.Callbacks.Open != nil {
		if err := w.Callbacks.Open(st); err != nil {
			return false, err
		}
	}

	var readPkt *packetstream.Packet
	reading := w.Flags&FlagRead != 0 && !st.SkipRead
	writing := w.Flags&FlagWrite != 0 && !st.SkipWrite

	if reading {
		readPkt, err = w.Input.Open(packetstream.ModeRead)
		if err != nil {
			return false, err
		}
		r := packetstream.NewReader(readPkt)
		header, err := glcfmt.DecodeHeader(r)
		if err != nil {
			_ = readPkt.Close()
			return false, err
		}
		st.Header = header
		st.ReadSize = readPkt.GetSize() - glcfmt.MessageHeaderSize

		if w.Callbacks.Header != nil {
			if err := w.Callbacks.Header(st); err != nil {
				_ = readPkt.Close()
				return false, err
			}
		}

		if st.ReadSize > 0 {
			data, _, err := readPkt.DMA(st.ReadSize, true)
			if err != nil {
				_ = readPkt.Close()
				return false, err
			}
			st.ReadData = data
		}

		if w.Callbacks.Read != nil {
			if err := w.Callbacks.Read(st); err != nil {
				_ = readPkt.Close()
				return false, err
			}
		}
	}

	if writing {
		serialize := reading && w.Flags&FlagRead != 0
		if serialize {
			w.openMu.Lock()
		}

		writePkt, err := w.Output.Open(packetstream.ModeWrite)
		if err != nil {
			if serialize {
				w.openMu.Unlock()
			}
			if readPkt != nil {
				_ = readPkt.Close()
			}
			return false, err
		}

		// Reserve the header bytes; the real header is written in step 5
		// once we know its final value (e.g. compression rewrites the type).
		if _, err := writePkt.Write(make([]byte, glcfmt.MessageHeaderSize)); err != nil {
			if serialize {
				w.openMu.Unlock()
			}
			_ = writePkt.Close()
			if readPkt != nil {
				_ = readPkt.Close()
			}
			return false, err
		}

		copying := w.Flags&FlagCopy != 0 || st.Copy
		if copying {
			st.WriteSize = st.ReadSize
		}

		if w.Flags&FlagUnknownFinalSize == 0 {
			_ = writePkt.SetSize(glcfmt.MessageHeaderSize + st.WriteSize)
		}

		if serialize {
			w.openMu.Unlock()
		}

		if copying {
			if st.ReadSize > 0 {
				if _, err := writePkt.Write(st.ReadData); err != nil {
					_ = writePkt.Close()
					if readPkt != nil {
						_ = readPkt.Close()
					}
					return false, err
				}
			}
		} else if w.Callbacks.Write != nil {
			if st.WriteSize > 0 {
				reserved := st.WriteSize
				dst, _, err := writePkt.DMA(reserved, true)
				if err != nil {
					_ = writePkt.Close()
					if readPkt != nil {
						_ = readPkt.Close()
					}
					return false, err
				}
				if err := w.Callbacks.Write(st, dst); err != nil {
					_ = writePkt.Close()
					if readPkt != nil {
						_ = readPkt.Close()
					}
					return false, err
				}
				// FlagUnknownFinalSize callers (e.g. the Compressor) reserve a
				// worst-case region and shrink st.WriteSize to the true size
				// once the transform is done; give the unused tail back.
				if w.Flags&FlagUnknownFinalSize != 0 && st.WriteSize < reserved {
					_ = writePkt.Truncate(glcfmt.MessageHeaderSize + st.WriteSize)
				}
			}
		}

		if w.Flags&FlagUnknownFinalSize != 0 {
			_ = writePkt.SetSize(glcfmt.MessageHeaderSize + st.WriteSize)
		}

		if err := writePkt.Seek(0); err != nil {
			_ = writePkt.Close()
			if readPkt != nil {
				_ = readPkt.Close()
			}
			return false, err
		}
		if err := st.Header.EncodeTo(packetWriter{writePkt}); err != nil {
			_ = writePkt.Close()
			if readPkt != nil {
				_ = readPkt.Close()
			}
			return false, err
		}
		if err := writePkt.Close(); err != nil {
			if readPkt != nil {
				_ = readPkt.Close()
			}
			return false, err
		}
	}

	if readPkt != nil {
		if err := readPkt.Close(); err != nil {
			return false, err
		}
	}

	if w.Callbacks.Close != nil {
		if err := w.Callbacks.Close(st); err != nil {
			return false, err
		}
	}

	if reading && st.Header.Type == glcfmt.MessageClose && w.Threads > 1 {
		// Nothing follows CLOSE on Input: wake the sibling goroutines still
		// blocked opening it so that they exit too and Run returns.
		w.stopRequest.Store(true)
		w.Input.Cancel()
	}

	stop = st.Stop || st.Header.Type == glcfmt.MessageClose || w.stopRequest.Load()
	return stop, nil
}

// packetWriter adapts a write-mode Packet to io.Writer for the
// glcfmt encoders.
type packetWriter struct{ p *packetstream.Packet }

func (w packetWriter) Write(b []byte) (int, error) { return w.p.Write(b) }
