package encode

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/glcfmt"
)

// YUV4MPEGEncoder transcodes one video stream to the YUV4MPEG2 stream
// format (the format mplayer/mpv/ffmpeg's "yuv4mpegpipe" demuxer
// reads), hand-rolled with fmt and io writes since no library in the
// retrieved example pack speaks this container.
type YUV4MPEGEncoder struct {
	out io.Writer
	log *slog.Logger
	cfg config.Config

	started             bool
	width, height       uint32
	outWidth, outHeight int
	format              uint8
	fps                 float64
}

// NewYUV4MPEGEncoder creates a YUV4MPEGEncoder writing to out. fps is
// the stream's nominal frame rate (from the StreamInfo prologue, spec.md
// §3), used for the Y4M header's F<num>:<denom> field. cfg's scale and
// color override knobs (spec.md §6) are applied to every frame before
// it is written.
func NewYUV4MPEGEncoder(out io.Writer, fps float64, cfg config.Config, log *slog.Logger) *YUV4MPEGEncoder {
	if log == nil {
		log = slog.Default()
	}
	if fps <= 0 {
		fps = 30
	}
	return &YUV4MPEGEncoder{out: out, log: log, cfg: cfg, fps: fps}
}

func (e *YUV4MPEGEncoder) Handle(header glcfmt.MessageHeader, payload []byte) error {
	switch header.Type {
	case glcfmt.MessageVideoFormat:
		return e.handleFormat(payload)
	case glcfmt.MessageVideoFrame:
		return e.handleFrame(payload)
	default:
		return nil
	}
}

func (e *YUV4MPEGEncoder) handleFormat(payload []byte) error {
	if e.started {
		e.log.Warn("yuv4mpeg: ignoring repeated VIDEO_FORMAT")
		return nil
	}
	fm, err := glcfmt.DecodeVideoFormatMessage(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("yuv4mpeg: decode video format: %w", err)
	}
	e.width, e.height, e.format = fm.Width, fm.Height, fm.Format
	e.outWidth, e.outHeight = resolveScaleDims(e.cfg, int(e.width), int(e.height))

	num, den := rationalize(e.fps)
	header := fmt.Sprintf("YUV4MPEG2 W%d H%d F%d:%d Ip A1:1 C420jpeg\n", e.outWidth, e.outHeight, num, den)
	if _, err := io.WriteString(e.out, header); err != nil {
		return fmt.Errorf("yuv4mpeg: write stream header: %w", err)
	}
	e.started = true
	return nil
}

func (e *YUV4MPEGEncoder) handleFrame(payload []byte) error {
	if !e.started {
		return fmt.Errorf("yuv4mpeg: VIDEO_FRAME before VIDEO_FORMAT")
	}
	if _, err := glcfmt.DecodeVideoFrameHeader(bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("yuv4mpeg: decode video frame header: %w", err)
	}
	pix := payload[glcfmt.VideoFrameHeaderSize:]

	y, cb, cr, err := planesYUV420(e.format, int(e.width), int(e.height), pix, e.cfg, e.outWidth, e.outHeight)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(e.out, "FRAME\n"); err != nil {
		return fmt.Errorf("yuv4mpeg: write frame marker: %w", err)
	}
	for _, plane := range [][]byte{y, cb, cr} {
		if _, err := e.out.Write(plane); err != nil {
			return fmt.Errorf("yuv4mpeg: write plane: %w", err)
		}
	}
	return nil
}

// Close is a no-op: YUV4MPEG2 has no trailer, every frame is
// self-delimiting via its own FRAME marker.
func (e *YUV4MPEGEncoder) Close() error { return nil }

// rationalize turns a float fps into a small num:den pair by scaling
// up to three decimal places and reducing by the GCD, matching how
// NTSC-ish rates (29.97 -> 2997:100 -> 2997:100) are conventionally
// expressed in Y4M headers.
func rationalize(fps float64) (num, den int) {
	den = 1000
	num = int(fps*1000 + 0.5)
	g := gcd(num, den)
	if g > 0 {
		num /= g
		den /= g
	}
	return num, den
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
