package encode

import (
	"image"
	"image/color"
	"testing"

	"github.com/zsiec/glc/internal/config"
)

func TestResolveScaleDimsPrefersExplicitWidthHeight(t *testing.T) {
	cfg := config.Config{ScaleWidth: 100, ScaleHeight: 50, ScaleFactor: 2}
	w, h := resolveScaleDims(cfg, 10, 10)
	if w != 100 || h != 50 {
		t.Fatalf("got %dx%d, want 100x50", w, h)
	}
}

func TestResolveScaleDimsAppliesFactor(t *testing.T) {
	cfg := config.Config{ScaleFactor: 0.5}
	w, h := resolveScaleDims(cfg, 10, 20)
	if w != 5 || h != 10 {
		t.Fatalf("got %dx%d, want 5x10", w, h)
	}
}

func TestResolveScaleDimsUnsetReturnsNative(t *testing.T) {
	w, h := resolveScaleDims(config.Config{}, 10, 20)
	if w != 10 || h != 20 {
		t.Fatalf("got %dx%d, want native 10x20", w, h)
	}
}

func TestResizeImageUpscalesNearestNeighbor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{B: 255, A: 255})

	out := resizeImage(img, 4, 1)
	if b := out.Bounds(); b.Dx() != 4 || b.Dy() != 1 {
		t.Fatalf("dims = %dx%d, want 4x1", b.Dx(), b.Dy())
	}
	r, _, _, _ := out.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("left half = %d, want red", r>>8)
	}
	_, _, bl, _ := out.At(3, 0).RGBA()
	if bl>>8 != 255 {
		t.Fatalf("right half = %d, want blue", bl>>8)
	}
}

func TestApplyColorOverrideDisabledIsNoOp(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	out := applyColorOverride(img, config.ColorOverride{Enabled: false})
	if out != image.Image(img) {
		t.Fatalf("expected disabled override to return img unchanged")
	}
}

func TestApplyColorOverrideBrightnessClampsToWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	out := applyColorOverride(img, config.ColorOverride{
		Enabled: true, Brightness: 1, Contrast: 0, Red: 1, Green: 1, Blue: 1,
	})
	r, g, bl, _ := out.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 255 || bl>>8 != 255 {
		t.Fatalf("got (%d,%d,%d), want clamped to white", r>>8, g>>8, bl>>8)
	}
}
