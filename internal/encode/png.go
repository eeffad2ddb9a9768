package encode

import (
	"bytes"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/glcfmt"
)

// PNGEncoder transcodes one video stream to a sequence of PNG files,
// one per VIDEO_FRAME, via the standard library's image/png — no
// codec work of our own beyond getting pixels into an image.Image
// (pixel.go), since PNG is already a solved problem in the standard
// library.
type PNGEncoder struct {
	dir    string
	prefix string
	log    *slog.Logger
	cfg    config.Config

	started             bool
	width, height       uint32
	outWidth, outHeight int
	format              uint8
	index               int
}

// NewPNGEncoder creates a PNGEncoder writing "<prefix>-NNNNNN.png"
// files into dir, which it creates if necessary. cfg's scale and color
// override knobs (spec.md §6) are applied to every frame before it is
// encoded.
func NewPNGEncoder(dir, prefix string, cfg config.Config, log *slog.Logger) *PNGEncoder {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "frame"
	}
	return &PNGEncoder{dir: dir, prefix: prefix, cfg: cfg, log: log}
}

func (e *PNGEncoder) Handle(header glcfmt.MessageHeader, payload []byte) error {
	switch header.Type {
	case glcfmt.MessageVideoFormat:
		return e.handleFormat(payload)
	case glcfmt.MessageVideoFrame:
		return e.handleFrame(payload)
	default:
		return nil
	}
}

func (e *PNGEncoder) handleFormat(payload []byte) error {
	if e.started {
		e.log.Warn("png: ignoring repeated VIDEO_FORMAT")
		return nil
	}
	fm, err := glcfmt.DecodeVideoFormatMessage(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("png: decode video format: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("png: create output dir: %w", err)
	}
	e.width, e.height, e.format = fm.Width, fm.Height, fm.Format
	e.outWidth, e.outHeight = resolveScaleDims(e.cfg, int(e.width), int(e.height))
	e.started = true
	return nil
}

func (e *PNGEncoder) handleFrame(payload []byte) error {
	if !e.started {
		return fmt.Errorf("png: VIDEO_FRAME before VIDEO_FORMAT")
	}
	if _, err := glcfmt.DecodeVideoFrameHeader(bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("png: decode video frame header: %w", err)
	}
	pix := payload[glcfmt.VideoFrameHeaderSize:]

	img, err := decodeImage(e.format, int(e.width), int(e.height), pix)
	if err != nil {
		return err
	}
	img = postprocess(img, e.cfg, e.outWidth, e.outHeight)

	name := filepath.Join(e.dir, fmt.Sprintf("%s-%06d.png", e.prefix, e.index))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("png: create %s: %w", name, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("png: encode %s: %w", name, err)
	}
	e.index++
	return nil
}

// Close is a no-op: every frame is already flushed to its own file.
func (e *PNGEncoder) Close() error { return nil }
