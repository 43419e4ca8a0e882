package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultQuality is the JPEG quality of rendered overlay frames.
const DefaultQuality = 85

var (
	markerGreen = color.RGBA{0, 255, 0, 255}
	boxRed      = color.RGBA{255, 0, 0, 255}
)

// Renderer draws color markers and detection boxes onto frames.
type Renderer struct {
	Quality int
	Face    font.Face
}

// NewRenderer returns a renderer using the 7x13 bitmap font.
func NewRenderer() *Renderer {
	return &Renderer{Quality: DefaultQuality, Face: basicfont.Face7x13}
}

// Render draws onto img and returns it JPEG encoded. img must be a private
// copy; see Decode.
func (r *Renderer) Render(img *image.RGBA, mode ColorMode, colors []ColorSample, dets []Detection) ([]byte, error) {
	for _, c := range colors {
		x, y := c.Coords[0], c.Coords[1]
		switch mode {
		case ModeCenter:
			fillRect(img, image.Rect(x-20, y-1, x+21, y+1), markerGreen)
			fillRect(img, image.Rect(x-1, y-20, x+1, y+21), markerGreen)
		case ModeGrid:
			fillCircle(img, x, y, 10, color.RGBA{c.R, c.G, c.B, 255})
		}
	}

	for _, d := range dets {
		x1, y1, x2, y2 := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		strokeRect(img, image.Rect(x1, y1, x2+1, y2+1), 2, boxRed)
		text := fmt.Sprintf("%s %.0f%% %s", d.Label, d.Confidence*100, d.Zone)
		r.drawText(img, x1, max(0, y1-10), text)
	}

	q := r.Quality
	if q <= 0 {
		q = DefaultQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return out.Bytes(), nil
}

// drawText places text with its top-left corner at (x, y).
func (r *Renderer) drawText(img *image.RGBA, x, y int, text string) {
	face := r.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	ascent := face.Metrics().Ascent.Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(boxRed),
		Face: face,
		Dot:  fixed.P(x, y+ascent),
	}
	d.DrawString(text)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// strokeRect draws the outline of r, width pixels thick, inside r.
func strokeRect(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fillCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			p := image.Pt(cx+dx, cy+dy)
			if p.In(b) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}
