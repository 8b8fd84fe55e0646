package imop

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Layer is a transparent image holding the face markers.
type Layer struct {
	Img *image.NRGBA
}

// NewLayer returns an empty layer covering r.
func NewLayer(r image.Rectangle) *Layer {
	return &Layer{Img: image.NewNRGBA(r)}
}

// Rect strokes the outline of r with the given line thickness.
func (l *Layer) Rect(r image.Rectangle, c color.NRGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	fill := &image.Uniform{c}
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(l.Img, edge.Intersect(r), fill, image.Point{}, draw.Src)
	}
}

// Dot fills the disc of the given radius centered on (x, y).
func (l *Layer) Dot(x, y, radius float64, c color.NRGBA) {
	b := image.Rect(int(x-radius), int(y-radius), int(x+radius)+1, int(y+radius)+1).Intersect(l.Img.Bounds())
	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			dx, dy := float64(px)+0.5-x, float64(py)+0.5-y
			if dx*dx+dy*dy <= radius*radius {
				l.Img.SetNRGBA(px, py, c)
			}
		}
	}
}

// Annotate composes the layer over a copy of img and returns the result, whose
// origin is (0, 0). The layer is addressed in the coordinates of img.
func Annotate(img image.Image, l *Layer, c *Composite) *image.NRGBA {
	backdrop := imaging.Clone(img)
	src := imaging.Crop(l.Img, img.Bounds())
	out := image.NewNRGBA(backdrop.Bounds())
	c.Draw(out, src, backdrop)
	return out
}

// ParseHex converts a #rrggbb or #rrggbbaa string into a color.
func ParseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if len(s) == 6 {
		s += "ff"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
