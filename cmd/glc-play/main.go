// Command glc-play reads a capture file and replays it through the
// per-stream encoders of internal/encode: internal/container.Source ->
// (internal/compress.Decompressor) -> internal/demux.Demux -> one
// encode.Encoder per stream id, each running on its own goroutine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/glc/internal/compress"
	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/container"
	"github.com/zsiec/glc/internal/demux"
	"github.com/zsiec/glc/internal/encode"
	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
	"github.com/zsiec/glc/internal/glclog"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/state"
)

func main() {
	glclog.Init()
	log := glclog.For("glc-play")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s INPUT.glc\n", os.Args[0])
		os.Exit(2)
	}
	inputPath := os.Args[1]

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("read config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, inputPath, log); err != nil {
		log.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, inputPath string, log *slog.Logger) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	rawBuf := packetstream.NewBuffer(cfg.CompressedBufferSize)
	src := container.NewSource(in, rawBuf, glclog.For("source"))
	if err := src.Open(); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if cfg.PlaybackAction == config.ActionInfo {
		printInfo(src)
		return nil
	}

	decodedBuf := packetstream.NewBuffer(cfg.UncompressedBufferSize)
	decompressor := compress.NewDecompressor(rawBuf, decodedBuf)

	tracker := state.New()
	sizer := func(glcfmt.StreamID, glcfmt.MessageHeader) int { return cfg.UncompressedBufferSize }
	dmx := demux.New(decodedBuf, tracker, sizer)

	newStreamCh := make(chan glcfmt.StreamID, 16)
	dmx.OnNewStream = func(id glcfmt.StreamID) { newStreamCh <- id }

	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		rawBuf.Cancel()
		decodedBuf.Cancel()
		return nil
	})

	g.Go(func() error { return src.Run() })
	g.Go(func() error { return decompressor.Run(ctx) })
	g.Go(func() error {
		defer close(newStreamCh)
		return dmx.Run(ctx)
	})
	g.Go(func() error {
		for id := range newStreamCh {
			id := id
			g.Go(func() error {
				return handleStream(dmx.Stream(id), id, cfg, src.Info.FPS, base, log)
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil && !glcerr.IsCancel(err) {
		return err
	}
	return nil
}

func printInfo(src *container.Source) {
	fmt.Printf("signature: glc\n")
	fmt.Printf("version:   0x%x\n", src.Info.Version)
	fmt.Printf("fps:       %.3f\n", src.Info.FPS)
	fmt.Printf("pid:       %d\n", src.Info.PID)
	fmt.Printf("name:      %s\n", src.Name)
	fmt.Printf("date:      %s\n", src.Date)
}

// handleStream reads the first message off a per-stream demux buffer to
// learn whether it carries audio or video, picks the Encoder the
// requested PlaybackAction calls for, replays that first message into
// it, and hands the rest of the stream to encode.Run.
func handleStream(buf *packetstream.Buffer, id glcfmt.StreamID, cfg config.Config, fps float64, base string, log *slog.Logger) error {
	header, payload, err := encode.ReadOne(buf)
	if err != nil {
		if glcerr.IsCancel(err) {
			return nil
		}
		return fmt.Errorf("stream %d: read first message: %w", id, err)
	}
	if header.Type == glcfmt.MessageClose {
		return nil
	}

	streamLog := glclog.For("encode").With("stream_id", id)

	enc, err := newEncoderFor(header.Type, cfg, fps, base, id, streamLog)
	if err != nil {
		return fmt.Errorf("stream %d: %w", id, err)
	}

	if err := enc.Handle(header, payload); err != nil {
		_ = enc.Close()
		return fmt.Errorf("stream %d: handle first message: %w", id, err)
	}
	return encode.Run(buf, enc, streamLog)
}

func newEncoderFor(firstType glcfmt.MessageType, cfg config.Config, fps float64, base string, id glcfmt.StreamID, log *slog.Logger) (encode.Encoder, error) {
	switch {
	case firstType == glcfmt.MessageAudioFormat && cfg.PlaybackAction == config.ActionExportWAV:
		f, err := os.Create(fmt.Sprintf("%s.stream%d.wav", base, id))
		if err != nil {
			return nil, fmt.Errorf("create wav output: %w", err)
		}
		return encode.NewWAVEncoder(f, log), nil

	case firstType == glcfmt.MessageVideoFormat && cfg.PlaybackAction == config.ActionExportYUV4MP:
		f, err := os.Create(fmt.Sprintf("%s.stream%d.y4m", base, id))
		if err != nil {
			return nil, fmt.Errorf("create yuv4mpeg output: %w", err)
		}
		return encode.NewYUV4MPEGEncoder(f, fps, cfg, log), nil

	case firstType == glcfmt.MessageVideoFormat && cfg.PlaybackAction == config.ActionExportImage:
		dir := fmt.Sprintf("%s.stream%d.frames", base, id)
		return encode.NewPNGEncoder(dir, "frame", cfg, log), nil

	default:
		// ActionPlay, or an export action that doesn't match this
		// stream's media type: there is no real-time ALSA/display
		// sink wired up, so the stream is drained and logged instead
		// of silently blocking its producer.
		return newLogEncoder(id, log), nil
	}
}

// logEncoder is the diagnostic fallback Encoder: it counts messages by
// type and logs a summary on Close, exercising the full pipeline for
// streams no concrete export format was requested for.
type logEncoder struct {
	id     glcfmt.StreamID
	log    *slog.Logger
	counts map[glcfmt.MessageType]int
}

func newLogEncoder(id glcfmt.StreamID, log *slog.Logger) *logEncoder {
	return &logEncoder{id: id, log: log, counts: make(map[glcfmt.MessageType]int)}
}

func (e *logEncoder) Handle(header glcfmt.MessageHeader, _ []byte) error {
	e.counts[header.Type]++
	return nil
}

func (e *logEncoder) Close() error {
	e.log.Info("stream drained", "stream_id", e.id, "message_counts", e.counts)
	return nil
}
