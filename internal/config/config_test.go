package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ALSADevice != "default" {
		t.Errorf("ALSADevice = %q, want %q", cfg.ALSADevice, "default")
	}
	if cfg.PlaybackAction != ActionPlay {
		t.Errorf("PlaybackAction = %q, want %q", cfg.PlaybackAction, ActionPlay)
	}
	if cfg.CompressedBufferSize != defaultCompressedBufferSize {
		t.Errorf("CompressedBufferSize = %d, want %d", cfg.CompressedBufferSize, defaultCompressedBufferSize)
	}
	if !cfg.Compress {
		t.Errorf("Compress = false, want true by default")
	}
	if cfg.CompressCodec != defaultCompressCodec {
		t.Errorf("CompressCodec = %q, want %q", cfg.CompressCodec, defaultCompressCodec)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GLC_ALSA_DEVICE", "hw:1,0")
	t.Setenv("GLC_ACTION", "export-wav")
	t.Setenv("GLC_SCALE", "0.5")
	t.Setenv("GLC_COLOR", "0.1,0.2,1,1,1")
	t.Setenv("GLC_COMPRESS", "0")
	t.Setenv("GLC_CODEC", "lzjb")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ALSADevice != "hw:1,0" {
		t.Errorf("ALSADevice = %q, want %q", cfg.ALSADevice, "hw:1,0")
	}
	if cfg.PlaybackAction != ActionExportWAV {
		t.Errorf("PlaybackAction = %q, want %q", cfg.PlaybackAction, ActionExportWAV)
	}
	if cfg.ScaleFactor != 0.5 {
		t.Errorf("ScaleFactor = %v, want 0.5", cfg.ScaleFactor)
	}
	if !cfg.Color.Enabled || cfg.Color.Red != 1 {
		t.Errorf("Color = %+v, want enabled with Red=1", cfg.Color)
	}
	if cfg.Compress {
		t.Errorf("Compress = true, want false when GLC_COMPRESS=0")
	}
	if cfg.CompressCodec != "lzjb" {
		t.Errorf("CompressCodec = %q, want %q", cfg.CompressCodec, "lzjb")
	}
}

func TestFromEnvRejectsMalformedInt(t *testing.T) {
	t.Setenv("GLC_SCALE_WIDTH", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() = nil error, want error for malformed GLC_SCALE_WIDTH")
	}
}
