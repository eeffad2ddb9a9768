package compress

import (
	"bytes"
	"io"
	"runtime"

	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/stage"
)

// multiScratch holds one scratch per codec actually encountered by a
// Decompressor goroutine: unlike the Compressor, whose codec is fixed
// at construction, a Decompressor must handle a file that mixes
// messages compressed under different tags (spec.md §4.4: "the choice
// is fixed at compressor-construction time and encoded in the
// container tag").
type multiScratch struct {
	byCodec map[Codec]*scratch
}

func newMultiScratch() *multiScratch {
	return &multiScratch{byCodec: make(map[Codec]*scratch)}
}

func (m *multiScratch) get(codec Codec) (*scratch, error) {
	if s, ok := m.byCodec[codec]; ok {
		return s, nil
	}
	s, err := newScratch(codec)
	if err != nil {
		return nil, err
	}
	m.byCodec[codec] = s
	return s, nil
}

func (m *multiScratch) close() {
	for _, s := range m.byCodec {
		s.close()
	}
}

// NewDecompressor returns a Stage Worker that unwraps CONTAINER
// messages whose nested tag is a known codec, rewriting the outer
// header back to the original message type; every other message
// passes through unchanged.
func NewDecompressor(input, output *packetstream.Buffer) *stage.Worker {
	w := &stage.Worker{
		Input:   input,
		Output:  output,
		Flags:   stage.FlagRead | stage.FlagWrite | stage.FlagUnknownFinalSize,
		Threads: runtime.GOMAXPROCS(0),
	}
	w.Callbacks = stage.Callbacks{
		ThreadCreate: func() (any, error) { return newMultiScratch(), nil },
		ThreadFinish: func(ts any, _ error) {
			if m, ok := ts.(*multiScratch); ok {
				m.close()
			}
		},
		Read: func(s *stage.State) error {
			if s.Header.Type != glcfmt.MessageContainer {
				s.Copy = true
				return nil
			}
			r := bytes.NewReader(s.ReadData)
			containerHeader, err := glcfmt.DecodeContainerHeader(r)
			if err != nil {
				return err
			}
			if !containerHeader.Header.Type.IsCompressed() {
				s.Copy = true
				return nil
			}
			codecHeader, err := glcfmt.DecodeCodecHeader(r)
			if err != nil {
				return err
			}
			s.WriteSize = int(codecHeader.OriginalSize)
			return nil
		},
		Write: func(s *stage.State, dst []byte) error {
			r := bytes.NewReader(s.ReadData)
			containerHeader, err := glcfmt.DecodeContainerHeader(r)
			if err != nil {
				return err
			}
			codecHeader, err := glcfmt.DecodeCodecHeader(r)
			if err != nil {
				return err
			}
			compressed, err := io.ReadAll(r)
			if err != nil {
				return err
			}

			ms := s.ThreadState.(*multiScratch)
			scr, err := ms.get(Codec(containerHeader.Header.Type))
			if err != nil {
				return err
			}
			decoded, err := scr.decompress(compressed)
			if err != nil {
				return err
			}

			s.WriteSize = copy(dst, decoded)
			s.Header = codecHeader.OriginalHeader
			return nil
		},
	}
	return w
}
