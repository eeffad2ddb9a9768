package encode

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/youpy/go-wav"

	"github.com/zsiec/glc/internal/glcfmt"
)

// wavHeaderSize is the canonical 44-byte canonical PCM RIFF/WAVE header
// go-wav.NewWriter emits; reserving exactly this many bytes up front
// lets WAVEncoder stream samples before it knows the final sample
// count, then go back and write a correct header once it does.
const wavHeaderSize = 44

// WAVEncoder transcodes one audio stream to a PCM WAV file. It targets
// an io.WriteSeeker (an *os.File in practice) because the WAV header
// carries a data-length field that isn't known until every AUDIO_DATA
// message has been seen; the encoder reserves header-sized space,
// streams samples past it, then seeks back and writes the real header
// from Close.
type WAVEncoder struct {
	out io.WriteSeeker
	log *slog.Logger

	started        bool
	rate, channels uint32
	bytesPerSample uint32
	numFrames      uint32
}

// NewWAVEncoder creates a WAVEncoder writing to out.
func NewWAVEncoder(out io.WriteSeeker, log *slog.Logger) *WAVEncoder {
	if log == nil {
		log = slog.Default()
	}
	return &WAVEncoder{out: out, log: log}
}

func (e *WAVEncoder) Handle(header glcfmt.MessageHeader, payload []byte) error {
	switch header.Type {
	case glcfmt.MessageAudioFormat:
		return e.handleFormat(payload)
	case glcfmt.MessageAudioData:
		return e.handleData(payload)
	default:
		return nil
	}
}

func (e *WAVEncoder) handleFormat(payload []byte) error {
	if e.started {
		e.log.Warn("wav: ignoring repeated AUDIO_FORMAT")
		return nil
	}
	fm, err := glcfmt.DecodeAudioFormatMessage(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wav: decode audio format: %w", err)
	}
	bps, err := audioBytesPerSample(fm.Format)
	if err != nil {
		return err
	}
	e.rate = fm.Rate
	e.channels = fm.Channels
	e.bytesPerSample = bps

	if _, err := e.out.Seek(wavHeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("wav: reserve header: %w", err)
	}
	e.started = true
	return nil
}

func (e *WAVEncoder) handleData(payload []byte) error {
	if !e.started {
		return fmt.Errorf("wav: AUDIO_DATA before AUDIO_FORMAT")
	}
	dh, err := glcfmt.DecodeAudioDataHeader(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wav: decode audio data header: %w", err)
	}
	samples := payload[glcfmt.AudioDataHeaderSize:]
	if uint64(len(samples)) != dh.Size {
		e.log.Warn("wav: audio data size mismatch", "declared", dh.Size, "got", len(samples))
	}
	if _, err := e.out.Write(samples); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}

	frameSize := e.bytesPerSample * e.channels
	if frameSize > 0 {
		e.numFrames += uint32(len(samples)) / frameSize
	}
	return nil
}

// Close writes the final WAV header over the reserved space at offset
// 0, now that numFrames is known, and leaves the write position at end
// of file.
func (e *WAVEncoder) Close() error {
	if !e.started {
		return nil
	}
	if _, err := e.out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek to header: %w", err)
	}
	// go-wav writes the RIFF/fmt/data header as a side effect of
	// construction; the PCM samples behind it were already written
	// directly to out by handleData.
	wav.NewWriter(e.out, e.numFrames, uint16(e.channels), e.rate, uint16(e.bytesPerSample*8))
	_, err := e.out.Seek(0, io.SeekEnd)
	return err
}

func audioBytesPerSample(format uint8) (uint32, error) {
	switch format {
	case glcfmt.AudioS16LE:
		return 2, nil
	case glcfmt.AudioS24LE:
		return 3, nil
	case glcfmt.AudioS32LE:
		return 4, nil
	default:
		return 0, fmt.Errorf("wav: unsupported audio format 0x%x", format)
	}
}
