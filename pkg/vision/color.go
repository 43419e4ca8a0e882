// Package vision holds the image-side pieces of the pipeline: color sampling,
// detection filtering and overlay rendering.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// ColorMode selects where colors are sampled.
type ColorMode string

const (
	ModeCenter ColorMode = "center"
	ModeGrid   ColorMode = "grid"
)

// Valid reports whether m is a known mode.
func (m ColorMode) Valid() bool {
	return m == ModeCenter || m == ModeGrid
}

const (
	centerWindow = 60
	gridWindow   = 40
	gridSize     = 3
)

// ColorSample is the mean color of a small window of the frame.
type ColorSample struct {
	Position string `json:"position"`
	RGB      string `json:"rgb"`
	RGBA     string `json:"rgba"`
	Hex      string `json:"hex"`
	Name     string `json:"name"`
	Coords   [2]int `json:"coords"`
	R        uint8  `json:"r"`
	G        uint8  `json:"g"`
	B        uint8  `json:"b"`
}

// Decode decodes a JPEG into a freshly allocated RGBA image.
func Decode(data []byte) (*image.RGBA, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

// SampleColors samples img according to mode. Unknown modes sample nothing.
func SampleColors(img image.Image, mode ColorMode) []ColorSample {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch mode {
	case ModeCenter:
		cx, cy := w/2, h/2
		return []ColorSample{sampleAt(img, "center", cx, cy, centerWindow/2)}
	case ModeGrid:
		samples := make([]ColorSample, 0, gridSize*gridSize)
		for row := range gridSize {
			for col := range gridSize {
				x := int(float64(w) * (float64(col) + 0.5) / gridSize)
				y := int(float64(h) * (float64(row) + 0.5) / gridSize)
				pos := fmt.Sprintf("grid_%d_%d", row, col)
				samples = append(samples, sampleAt(img, pos, x, y, gridWindow/2))
			}
		}
		return samples
	}
	return nil
}

func sampleAt(img image.Image, position string, x, y, half int) ColorSample {
	b := img.Bounds()
	win := image.Rect(b.Min.X+x-half, b.Min.Y+y-half, b.Min.X+x+half, b.Min.Y+y+half).Intersect(b)

	var sr, sg, sb, n uint64
	for py := win.Min.Y; py < win.Max.Y; py++ {
		for px := win.Min.X; px < win.Max.X; px++ {
			r, g, bl, _ := img.At(px, py).RGBA()
			sr += uint64(r >> 8)
			sg += uint64(g >> 8)
			sb += uint64(bl >> 8)
			n++
		}
	}
	var r, g, bl uint8
	if n > 0 {
		r, g, bl = uint8(sr/n), uint8(sg/n), uint8(sb/n)
	}
	return NewColorSample(position, x, y, r, g, bl)
}

// NewColorSample fills in the derived encodings for an RGB triple.
func NewColorSample(position string, x, y int, r, g, b uint8) ColorSample {
	return ColorSample{
		Position: position,
		RGB:      fmt.Sprintf("rgb(%d,%d,%d)", r, g, b),
		RGBA:     fmt.Sprintf("rgba(%d,%d,%d,1)", r, g, b),
		Hex:      fmt.Sprintf("#%02x%02x%02x", r, g, b),
		Name:     ColorName(r, g, b),
		Coords:   [2]int{x, y},
		R:        r,
		G:        g,
		B:        b,
	}
}

// ColorName maps an RGB triple to a coarse human color name using HSV
// thresholds. Low saturation is treated as achromatic.
func ColorName(r, g, b uint8) string {
	h, s, v := rgbToHSV(r, g, b)
	if s < 10 {
		switch {
		case v < 20:
			return "Black"
		case v > 80:
			return "White"
		default:
			return "Gray"
		}
	}
	if v < 20 {
		return "Black"
	}
	switch {
	case h < 15 || h >= 345:
		return "Red"
	case h < 45:
		return "Orange"
	case h < 75:
		return "Yellow"
	case h < 155:
		return "Green"
	case h < 185:
		return "Cyan"
	case h < 250:
		return "Blue"
	case h < 290:
		return "Purple"
	default:
		return "Magenta"
	}
}

// rgbToHSV returns hue in degrees and saturation/value in percent.
func rgbToHSV(r, g, b uint8) (h, s, v float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	hi := math.Max(rf, math.Max(gf, bf))
	lo := math.Min(rf, math.Min(gf, bf))
	v = hi * 100
	if hi == lo {
		return 0, 0, v
	}
	d := hi - lo
	s = d / hi * 100
	switch hi {
	case rf:
		h = math.Mod((gf-bf)/d, 6)
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}
