package compress

import (
	"bytes"
	"runtime"

	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/stage"
)

// CompressorOptions configures a Compressor's codec choice and
// eligibility threshold.
type CompressorOptions struct {
	Codec     Codec
	Threshold int // bytes; DefaultThreshold if zero
}

// NewCompressor returns a Stage Worker that wraps eligible
// AUDIO_DATA/VIDEO_FRAME messages above Threshold in a CONTAINER
// envelope compressed with Codec, and passes every other message
// through unchanged. N = runtime.GOMAXPROCS(0), per spec.md §4.4.
func NewCompressor(input, output *packetstream.Buffer, opts CompressorOptions) *stage.Worker {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	codec := opts.Codec

	w := &stage.Worker{
		Input:   input,
		Output:  output,
		Flags:   stage.FlagRead | stage.FlagWrite | stage.FlagUnknownFinalSize,
		Threads: runtime.GOMAXPROCS(0),
	}
	w.Callbacks = stage.Callbacks{
		ThreadCreate: func() (any, error) { return newScratch(codec) },
		ThreadFinish: func(ts any, _ error) {
			if s, ok := ts.(*scratch); ok {
				s.close()
			}
		},
		Read: func(s *stage.State) error {
			eligible := (s.Header.Type == glcfmt.MessageAudioData || s.Header.Type == glcfmt.MessageVideoFrame) &&
				len(s.ReadData) > threshold
			if !eligible {
				s.Copy = true
				return nil
			}
			s.WriteSize = glcfmt.ContainerHeaderSize + glcfmt.CodecHeaderSize + maxEncodedLen(codec, len(s.ReadData))
			return nil
		},
		Write: func(s *stage.State, dst []byte) error {
			scr := s.ThreadState.(*scratch)
			compressed, err := scr.compress(s.ReadData)
			if err != nil {
				return err
			}

			originalHeader := s.Header
			containerHeader := glcfmt.ContainerHeader{
				Size:   uint64(glcfmt.CodecHeaderSize + len(compressed)),
				Header: glcfmt.MessageHeader{Type: glcfmt.MessageType(codec)},
			}
			codecHeader := glcfmt.CodecHeader{
				OriginalSize:   uint64(len(s.ReadData)),
				OriginalHeader: originalHeader,
			}

			var buf bytes.Buffer
			if err := containerHeader.EncodeTo(&buf); err != nil {
				return err
			}
			if err := codecHeader.EncodeTo(&buf); err != nil {
				return err
			}
			buf.Write(compressed)

			s.WriteSize = copy(dst, buf.Bytes())
			s.Header = glcfmt.MessageHeader{Type: glcfmt.MessageContainer}
			return nil
		},
	}
	return w
}
