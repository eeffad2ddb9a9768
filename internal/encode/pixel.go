package encode

import (
	"fmt"
	"image"

	"github.com/zsiec/glc/internal/config"
	"github.com/zsiec/glc/internal/glcfmt"
)

// decodeImage turns one VIDEO_FRAME payload into a standard-library
// image.Image, in normal top-down row order regardless of how the
// wire format stores it. BGR/BGRA/RGB frames are captured bottom-up
// (OpenGL readback convention, spec.md's "last row first"); YCbCr
// 4:2:0 frames are not.
func decodeImage(format uint8, width, height int, pix []byte) (image.Image, error) {
	switch format {
	case glcfmt.VideoBGR:
		return decodePacked(pix, width, height, 3, true, true)
	case glcfmt.VideoBGRA:
		return decodePacked(pix, width, height, 4, true, true)
	case glcfmt.VideoRGB:
		return decodePacked(pix, width, height, 3, false, true)
	case glcfmt.VideoYCbCr420Jpg:
		return decodeYCbCr420(pix, width, height)
	default:
		return nil, fmt.Errorf("encode: unsupported pixel format 0x%x", format)
	}
}

// decodePacked reads a packed RGB/RGBA/BGR/BGRA buffer into an
// *image.NRGBA. bottomUp flips row order during the copy; bgrOrder
// swaps the red/blue channels.
func decodePacked(pix []byte, width, height, channels int, bgrOrder, bottomUp bool) (image.Image, error) {
	stride := width * channels
	if len(pix) < stride*height {
		return nil, fmt.Errorf("encode: frame payload too short: got %d bytes, want %d", len(pix), stride*height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := y
		if bottomUp {
			srcY = height - 1 - y
		}
		srcRow := pix[srcY*stride : srcY*stride+stride]
		dstRow := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			s := srcRow[x*channels : x*channels+channels]
			d := dstRow[x*4 : x*4+4]
			r, g, b := s[0], s[1], s[2]
			if bgrOrder {
				r, b = b, r
			}
			d[0], d[1], d[2] = r, g, b
			if channels == 4 {
				d[3] = s[3]
			} else {
				d[3] = 0xff
			}
		}
	}
	return img, nil
}

// decodeYCbCr420 reads three planar Y/Cb/Cr planes (4:2:0 subsampled,
// full-size luma) into an *image.YCbCr.
func decodeYCbCr420(pix []byte, width, height int) (image.Image, error) {
	ySize := width * height
	cw, ch := (width+1)/2, (height+1)/2
	cSize := cw * ch
	if len(pix) < ySize+2*cSize {
		return nil, fmt.Errorf("encode: yuv420 frame payload too short: got %d bytes, want %d", len(pix), ySize+2*cSize)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, pix[:ySize])
	copy(img.Cb, pix[ySize:ySize+cSize])
	copy(img.Cr, pix[ySize+cSize:ySize+2*cSize])
	return img, nil
}

// planesYUV420 returns a frame's pixels as planar 4:2:0 Y/Cb/Cr bytes,
// at outWidth x outHeight. A frame already captured as YCbCr420Jpg with
// no color override or rescale configured is sliced directly, byte for
// byte; anything else goes through decodeImage + postprocess +
// toYUV420, which loses a little precision converting RGB through
// float math.
func planesYUV420(format uint8, width, height int, pix []byte, cfg config.Config, outWidth, outHeight int) (y, cb, cr []byte, err error) {
	fastPath := format == glcfmt.VideoYCbCr420Jpg && !cfg.Color.Enabled && outWidth == width && outHeight == height
	if fastPath {
		ySize := width * height
		cw, ch := (width+1)/2, (height+1)/2
		cSize := cw * ch
		if len(pix) < ySize+2*cSize {
			return nil, nil, nil, fmt.Errorf("encode: yuv420 frame payload too short: got %d bytes, want %d", len(pix), ySize+2*cSize)
		}
		return pix[:ySize], pix[ySize : ySize+cSize], pix[ySize+cSize : ySize+2*cSize], nil
	}

	img, err := decodeImage(format, width, height, pix)
	if err != nil {
		return nil, nil, nil, err
	}
	img = postprocess(img, cfg, outWidth, outHeight)
	y, cb, cr, _, _ = toYUV420(img)
	return y, cb, cr, nil
}

// toYUV420 converts any image.Image to planar 4:2:0 Y/Cb/Cr byte
// slices using the full-range BT.601 coefficients ("420jpeg" in
// YUV4MPEG2 parlance), averaging each 2x2 luma block into one chroma
// sample.
func toYUV420(img image.Image) (y, cb, cr []byte, width, height int) {
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	cw, ch := (width+1)/2, (height+1)/2

	y = make([]byte, width*height)
	cb = make([]byte, cw*ch)
	cr = make([]byte, cw*ch)

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			r, g, bl, _ := img.At(b.Min.X+col, b.Min.Y+row).RGBA()
			r8, g8, b8 := float64(r>>8), float64(g>>8), float64(bl>>8)
			y[row*width+col] = clampByte(0.299*r8 + 0.587*g8 + 0.114*b8)
		}
	}

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			r, g, bl := averageBlock(img, b, cx*2, cy*2)
			cb[cy*cw+cx] = clampByte(-0.168736*r + -0.331264*g + 0.5*bl + 128)
			cr[cy*cw+cx] = clampByte(0.5*r + -0.418688*g + -0.081312*bl + 128)
		}
	}
	return y, cb, cr, width, height
}

func averageBlock(img image.Image, b image.Rectangle, x0, y0 int) (r, g, bl float64) {
	var n float64
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			x, yy := b.Min.X+x0+dx, b.Min.Y+y0+dy
			if x >= b.Max.X || yy >= b.Max.Y {
				continue
			}
			rr, gg, bb, _ := img.At(x, yy).RGBA()
			r += float64(rr >> 8)
			g += float64(gg >> 8)
			bl += float64(bb >> 8)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return r / n, g / n, bl / n
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}
