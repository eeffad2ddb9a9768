// Package config reads the process-level knobs of spec.md §6 from the
// environment, following the teacher's envOr convention
// (cmd/prism/main.go) rather than a flag package or config file: every
// knob here is something the original GUI/hotkey layer toggled live,
// and an environment variable is the idiomatic Go stand-in for "set
// before the process starts, read once at startup".
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PlaybackAction selects what glc-play does with a capture file.
type PlaybackAction string

const (
	ActionInfo         PlaybackAction = "info"
	ActionPlay         PlaybackAction = "play"
	ActionExportImage  PlaybackAction = "export-image"
	ActionExportWAV    PlaybackAction = "export-wav"
	ActionExportYUV4MP PlaybackAction = "export-yuv4mpeg"
)

// ColorOverride carries the optional brightness/contrast/gamma override
// internal/encode's PNG and YUV4MPEG encoders apply to every frame of
// every video stream they write during playback.
type ColorOverride struct {
	Enabled    bool
	Brightness float32
	Contrast   float32
	Red        float32
	Green      float32
	Blue       float32
}

// Config holds every process-level knob from spec.md §6. There is no
// live-reload: the reload hotkey is a GUI-layer concern out of scope
// here (spec.md's Non-goals), but CaptureHotkey/ReloadHotkey are still
// carried through as opaque strings for a future interposition layer
// to read back.
type Config struct {
	CaptureHotkey string
	ReloadHotkey  string

	PlaybackAction PlaybackAction
	ALSADevice     string

	SilenceThreshold time.Duration

	ScaleFactor float64 // 0 means unset; mutually exclusive with ScaleWidth/Height
	ScaleWidth  int
	ScaleHeight int

	Color ColorOverride

	CompressedBufferSize   int
	UncompressedBufferSize int

	Compress      bool
	CompressCodec string // "lzo", "quicklz", or "lzjb"; see internal/compress.Codec

	Verbosity string // read from GLC_LOG_LEVEL; not consulted by cmd/*/main.go, whose glclog.Init sets the level from DEBUG
}

// defaults mirror the original implementation's compiled-in defaults,
// scaled down for a Go rewrite's typical test/dev machine.
const (
	defaultCaptureHotkey           = "<Shift><Ctrl>c"
	defaultReloadHotkey            = "<Shift><Ctrl>r"
	defaultALSADevice              = "default"
	defaultSilenceThresholdMicros  = 200000
	defaultCompressedBufferSize    = 1 << 20 // 1 MiB
	defaultUncompressedBufferSize  = 4 << 20 // 4 MiB
	defaultCompressCodec           = "lzo"
)

// FromEnv reads every knob from the environment, applying the defaults
// above where unset.
func FromEnv() (Config, error) {
	cfg := Config{
		CaptureHotkey:    envOr("GLC_CAPTURE_HOTKEY", defaultCaptureHotkey),
		ReloadHotkey:     envOr("GLC_RELOAD_HOTKEY", defaultReloadHotkey),
		PlaybackAction:   PlaybackAction(envOr("GLC_ACTION", string(ActionPlay))),
		ALSADevice:       envOr("GLC_ALSA_DEVICE", defaultALSADevice),
		Verbosity:        envOr("GLC_LOG_LEVEL", "info"),
		Compress:         envOr("GLC_COMPRESS", "1") != "0",
		CompressCodec:    envOr("GLC_CODEC", defaultCompressCodec),
	}

	silenceMicros, err := envInt("GLC_SILENCE_THRESHOLD_US", defaultSilenceThresholdMicros)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceThreshold = time.Duration(silenceMicros) * time.Microsecond

	cfg.CompressedBufferSize, err = envInt("GLC_COMPRESSED_BUFFER_SIZE", defaultCompressedBufferSize)
	if err != nil {
		return Config{}, err
	}
	cfg.UncompressedBufferSize, err = envInt("GLC_UNCOMPRESSED_BUFFER_SIZE", defaultUncompressedBufferSize)
	if err != nil {
		return Config{}, err
	}

	if v := os.Getenv("GLC_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: GLC_SCALE: %w", err)
		}
		cfg.ScaleFactor = f
	}
	cfg.ScaleWidth, err = envInt("GLC_SCALE_WIDTH", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.ScaleHeight, err = envInt("GLC_SCALE_HEIGHT", 0)
	if err != nil {
		return Config{}, err
	}

	if v := os.Getenv("GLC_COLOR"); v != "" {
		c, err := parseColorOverride(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Color = c
	}

	return cfg, nil
}

// parseColorOverride parses "brightness,contrast,red,green,blue" as
// five floats, matching the original's single-flag color override.
func parseColorOverride(v string) (ColorOverride, error) {
	var c ColorOverride
	n, err := fmt.Sscanf(v, "%f,%f,%f,%f,%f", &c.Brightness, &c.Contrast, &c.Red, &c.Green, &c.Blue)
	if err != nil || n != 5 {
		return ColorOverride{}, fmt.Errorf("config: GLC_COLOR: want \"brightness,contrast,red,green,blue\", got %q", v)
	}
	c.Enabled = true
	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
