package encode

import (
	"image"
	"image/color"
	"testing"

	"github.com/zsiec/glc/internal/glcfmt"
)

func TestDecodeImageBGRFlipsBottomUpRows(t *testing.T) {
	// Wire rows are bottom-up: first row in the buffer is the bottom
	// displayed row. Bottom row: blue, white. Top row: red, green.
	wire := []byte{
		255, 0, 0, 255, 255, 255, // bottom row (B,G,R) pairs
		0, 0, 255, 0, 255, 0, // top row
	}

	img, err := decodeImage(glcfmt.VideoBGR, 2, 2, wire)
	if err != nil {
		t.Fatalf("decodeImage: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("decodeImage type = %T, want *image.NRGBA", img)
	}

	want := map[string]color.NRGBA{
		"top-left":     {R: 255, G: 0, B: 0, A: 255},
		"top-right":    {R: 0, G: 255, B: 0, A: 255},
		"bottom-left":  {R: 0, G: 0, B: 255, A: 255},
		"bottom-right": {R: 255, G: 255, B: 255, A: 255},
	}
	checks := map[string][2]int{
		"top-left": {0, 0}, "top-right": {1, 0},
		"bottom-left": {0, 1}, "bottom-right": {1, 1},
	}
	for name, xy := range checks {
		got := nrgba.NRGBAAt(xy[0], xy[1])
		if got != want[name] {
			t.Errorf("%s = %+v, want %+v", name, got, want[name])
		}
	}
}

func TestDecodeImageRejectsShortPayload(t *testing.T) {
	if _, err := decodeImage(glcfmt.VideoBGR, 4, 4, []byte{1, 2, 3}); err == nil {
		t.Fatalf("decodeImage() = nil error, want error for truncated payload")
	}
}

func TestToYUV420OnGrayImageStaysNearMidpoint(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	gray := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, gray)
		}
	}

	y, cb, cr, w, h := toYUV420(img)
	if w != 2 || h != 2 {
		t.Fatalf("dims = %dx%d, want 2x2", w, h)
	}
	if len(y) != 4 || len(cb) != 1 || len(cr) != 1 {
		t.Fatalf("plane sizes = %d/%d/%d, want 4/1/1", len(y), len(cb), len(cr))
	}
	for _, sample := range y {
		if abs(int(sample)-128) > 1 {
			t.Errorf("Y sample = %d, want ~128", sample)
		}
	}
	if abs(int(cb[0])-128) > 1 || abs(int(cr[0])-128) > 1 {
		t.Errorf("chroma = (%d,%d), want ~(128,128) for a neutral gray image", cb[0], cr[0])
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
