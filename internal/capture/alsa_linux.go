//go:build linux

package capture

import (
	"fmt"

	"github.com/yobert/alsa"

	"github.com/zsiec/glc/internal/glcerr"
	"github.com/zsiec/glc/internal/glcfmt"
)

// Recorder drives a real ALSA capture device through a Stream, giving
// the Audio Capturer a genuine host collaborator instead of a
// synthetic one (spec.md §6's "input from audio capture collaborator"
// fixture). It is the one piece of this package that is Linux-only;
// everywhere else a Stream is driven purely by its WriteI/WriteN/mmap
// calls, regardless of where those calls originate.
type Recorder struct {
	device *alsa.Device
	stream *Stream

	channels int
	rate     int
	format   uint8
}

// OpenRecorder finds the named ALSA capture device (or the first
// capture-capable device found, if name is empty), negotiates a
// format this package understands, and registers a Stream for it with
// cap.
func OpenRecorder(cap *Capturer, name string, handle Handle) (*Recorder, error) {
	cards, err := alsa.OpenCards()
	if err != nil {
		return nil, fmt.Errorf("capture: alsa open cards: %w", err)
	}

	var device *alsa.Device
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, d := range devices {
			if d.Type != alsa.PCM || !d.Record {
				continue
			}
			if name != "" && d.Title != name {
				continue
			}
			device = d
			break
		}
		if device != nil {
			break
		}
	}
	if device == nil {
		return nil, fmt.Errorf("capture: no ALSA capture device found")
	}

	if err := device.Open(); err != nil {
		return nil, fmt.Errorf("capture: alsa open device: %w", err)
	}

	channels, err := device.NegotiateChannels(1, 2)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("capture: negotiate channels: %w", err)
	}
	rate, err := device.NegotiateRate(44100, 48000)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("capture: negotiate rate: %w", err)
	}
	format, err := device.NegotiateFormat(alsa.S16_LE)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("capture: negotiate format: %w", err)
	}
	if _, err := device.NegotiateBufferSize(8192, 16384); err != nil {
		device.Close()
		return nil, fmt.Errorf("capture: negotiate buffer size: %w", err)
	}
	if err := device.Prepare(); err != nil {
		device.Close()
		return nil, fmt.Errorf("capture: prepare: %w", err)
	}

	glcFormat, err := alsaToGLCFormat(format)
	if err != nil {
		device.Close()
		return nil, err
	}

	stream, err := cap.Open(handle, Options{})
	if err != nil {
		device.Close()
		return nil, err
	}
	if err := stream.HWParams(uint32(rate), uint32(channels), glcFormat, AccessInterleaved); err != nil {
		device.Close()
		return nil, err
	}

	return &Recorder{
		device:   device,
		stream:   stream,
		channels: channels,
		rate:     rate,
		format:   glcFormat,
	}, nil
}

// Run reads from the device in a loop, handing each buffer to the
// Stream as an interleaved WriteI call, until the device returns an
// error (including the caller closing it from another goroutine).
func (r *Recorder) Run() error {
	buf := r.device.NewBufferDuration(200_000_000) // 200ms, as a time.Duration in nanoseconds
	frames := len(buf.Data) / frameSize(r.format, uint32(r.channels))

	for {
		if err := r.device.Read(buf.Data); err != nil {
			return fmt.Errorf("capture: alsa read: %w", err)
		}
		if err := r.stream.WriteI(buf.Data, frames); err != nil && err != glcerr.ErrBusy {
			return err
		}
	}
}

// Close releases the ALSA device and the underlying Stream.
func (r *Recorder) Close() error {
	_ = r.stream.Close()
	return r.device.Close()
}

func alsaToGLCFormat(f alsa.FormatType) (uint8, error) {
	switch f {
	case alsa.S16_LE:
		return glcfmt.AudioS16LE, nil
	case alsa.S24_LE:
		return glcfmt.AudioS24LE, nil
	case alsa.S32_LE:
		return glcfmt.AudioS32LE, nil
	default:
		return 0, fmt.Errorf("capture: unsupported ALSA format %v", f)
	}
}
