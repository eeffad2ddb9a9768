// Command glc-capture drives the Audio Capturer against a real ALSA
// device and writes the resulting packet stream to a capture file,
// optionally compressing large payloads along the way: capture.Recorder
// -> (internal/compress.Compressor) -> internal/container.Sink.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/glc/internal/capture"
	"github.com/zsiec/glc/internal/compress"
	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/container"
	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glclog"
	"github.com/zsiec/glc/internal/packetstream"
	"github.com/zsiec/glc/internal/state"
)

func main() {
	glclog.Init()
	log := glclog.For("glc-capture")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s OUTPUT.glc\n", os.Args[0])
		os.Exit(2)
	}
	outputPath := os.Args[1]

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("read config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, outputPath, log); err != nil {
		log.Error("capture failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, outputPath string, log *slog.Logger) error {
	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer out.Close()

	tracker := state.New()
	sink := container.NewSink(nil, tracker, container.StreamInfo{
		FPS:  0, // audio-only capture: no video frame rate to report
		PID:  uint32(os.Getpid()),
		Name: os.Args[0],
		Date: time.Now().UTC().Format(time.RFC3339),
	}, glclog.For("sink"))
	if err := sink.SetTarget(out); err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	defer sink.Close()

	captureBuf := packetstream.NewBuffer(cfg.UncompressedBufferSize)
	capturer := capture.NewCapturer(captureBuf, glclog.For("capture"))

	sinkInput := captureBuf

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Compress {
		codec, err := compress.ParseCodec(cfg.CompressCodec)
		if err != nil {
			return err
		}
		compressedBuf := packetstream.NewBuffer(cfg.CompressedBufferSize)
		compressor := compress.NewCompressor(captureBuf, compressedBuf, compress.CompressorOptions{Codec: codec})
		g.Go(func() error { return compressor.Run(ctx) })
		sinkInput = compressedBuf
	}
	sink.Input = sinkInput

	g.Go(func() error { return sink.Run() })

	recorder, err := capture.OpenRecorder(capturer, cfg.ALSADevice, capture.Handle(1))
	if err != nil {
		return fmt.Errorf("open recorder: %w", err)
	}
	if err := capturer.Start(); err != nil {
		recorder.Close()
		return fmt.Errorf("start capturer: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		return recorder.Close()
	})

	g.Go(func() error {
		err := recorder.Run()
		if shutdownErr := capturer.Shutdown(); shutdownErr != nil {
			log.Error("capturer shutdown", "error", shutdownErr)
		}
		if err != nil && ctx.Err() != nil {
			// Device read failed because Close unblocked it during shutdown.
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && !glcerr.IsCancel(err) {
		return err
	}
	return nil
}
