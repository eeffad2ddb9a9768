// Package compress implements the Compressor and Decompressor Stage
// Workers of spec §4.4: container-framed, codec-tagged wrapping of
// large AUDIO_DATA/VIDEO_FRAME payloads.
//
// The wire format preserves the original three codec tags exactly
// (LZO 0x04, QUICKLZ 0x07, LZJB 0x0a) for on-disk compatibility, but no
// Go implementation of those three C codecs exists in the ecosystem;
// each tag is backed here by the closest-fit algorithm from
// github.com/klauspost/compress, named per tag in DESIGN.md. Decoding
// is keyed off the tag actually present in the stream, so a file mixing
// messages compressed under different tags still round-trips.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
)

// Codec identifies which algorithm backs a container's codec tag.
type Codec glcfmt.MessageType

const (
	CodecLZO     Codec = Codec(glcfmt.MessageLZO)
	CodecQuickLZ Codec = Codec(glcfmt.MessageQuickLZ)
	CodecLZJB    Codec = Codec(glcfmt.MessageLZJB)
)

// ParseCodec maps a config.Config.CompressCodec name onto the Codec it
// selects, the Go equivalent of the original's --compress=N flag value.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "lzo":
		return CodecLZO, nil
	case "quicklz":
		return CodecQuickLZ, nil
	case "lzjb":
		return CodecLZJB, nil
	default:
		return 0, fmt.Errorf("compress: unknown codec %q", name)
	}
}

// DefaultThreshold is the payload size, in bytes, above which the
// Compressor wraps a message in a container instead of passing it
// through unchanged (spec.md §8's default).
const DefaultThreshold = 1024

// scratch is the per-goroutine codec state created once by a Worker's
// ThreadCreate callback and reused for every message that goroutine
// handles — the Go equivalent of the design's thread_create_callback
// scratch memory for LZO/QuickLZ.
type scratch struct {
	codec Codec

	flateWriter *flate.Writer
	flateBuf    bytes.Buffer

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder

	out []byte
}

func newScratch(codec Codec) (*scratch, error) {
	s := &scratch{codec: codec}
	switch codec {
	case CodecQuickLZ:
		w, err := flate.NewWriter(&s.flateBuf, flate.BestSpeed)
		if err != nil {
			return nil, err
		}
		s.flateWriter = w
	case CodecLZJB:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, err
		}
		s.zstdEnc = enc
		s.zstdDec = dec
	case CodecLZO:
		// s2 needs no persistent state; a scratch []byte is reused below.
	default:
		return nil, glcerr.ErrNotSupported
	}
	return s, nil
}

func (s *scratch) close() {
	if s.zstdEnc != nil {
		s.zstdEnc.Close()
	}
	if s.zstdDec != nil {
		s.zstdDec.Close()
	}
}

// maxEncodedLen returns a worst-case output size for compressing n
// bytes with codec, used to size the output DMA reservation before the
// true compressed size is known; an underestimate here would silently
// cut the real output short when the Write callback copies it into the
// reserved region, so each case uses a bound derived from the codec's
// own published one rather than a guessed margin.
func maxEncodedLen(codec Codec, n int) int {
	switch codec {
	case CodecLZO:
		return s2.MaxEncodedLen(n)
	case CodecQuickLZ:
		// klauspost/compress/flate exports no bound function (neither
		// does the stdlib compress/flate it mirrors); this is zlib's own
		// documented deflateBound formula, the bound deflate's
		// stored-block fallback is guaranteed to stay within.
		return n + (n >> 12) + (n >> 14) + (n >> 25) + 13
	case CodecLZJB:
		// klauspost/compress/zstd exports no bound function either; this
		// is never smaller than zstd's documented ZSTD_COMPRESSBOUND
		// (n + n>>8 plus a small-input margin of at most 64 bytes).
		return n + (n >> 8) + 512
	default:
		return n
	}
}

// compress runs s.codec over src and returns a view of the compressed
// bytes, valid until the next call on s.
func (s *scratch) compress(src []byte) ([]byte, error) {
	switch s.codec {
	case CodecLZO:
		need := s2.MaxEncodedLen(len(src))
		if cap(s.out) < need {
			s.out = make([]byte, need)
		}
		return s2.Encode(s.out[:need], src), nil

	case CodecQuickLZ:
		s.flateBuf.Reset()
		s.flateWriter.Reset(&s.flateBuf)
		if _, err := s.flateWriter.Write(src); err != nil {
			return nil, err
		}
		if err := s.flateWriter.Close(); err != nil {
			return nil, err
		}
		return s.flateBuf.Bytes(), nil

	case CodecLZJB:
		s.out = s.zstdEnc.EncodeAll(src, s.out[:0])
		return s.out, nil

	default:
		return nil, glcerr.ErrNotSupported
	}
}

// decompress runs s.codec's inverse over src and returns a view of the
// decoded bytes, valid until the next call on s.
func (s *scratch) decompress(src []byte) ([]byte, error) {
	switch s.codec {
	case CodecLZO:
		need, err := s2.DecodedLen(src)
		if err != nil {
			return nil, err
		}
		if cap(s.out) < need {
			s.out = make([]byte, need)
		}
		out, err := s2.Decode(s.out[:need], src)
		if err != nil {
			return nil, err
		}
		return out, nil

	case CodecQuickLZ:
		s.flateBuf.Reset()
		fr := flate.NewReader(bytes.NewReader(src))
		defer fr.Close()
		if _, err := io.Copy(&s.flateBuf, fr); err != nil {
			return nil, err
		}
		return s.flateBuf.Bytes(), nil

	case CodecLZJB:
		out, err := s.zstdDec.DecodeAll(src, s.out[:0])
		if err != nil {
			return nil, err
		}
		s.out = out
		return out, nil

	default:
		return nil, glcerr.ErrNotSupported
	}
}
