// Package imop composes the annotation layer produced for the detected faces
// with the image they were detected on. It implements the Porter-Duff
// composition operators, of which the image/draw package only offers the
// source and the source-over-destination ones, and a few separable blend
// modes applied where the layer covers the backdrop.
package imop

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Op is a Porter-Duff composition operator.
type Op string

// Supported composition operators.
const (
	Clear   Op = "clear"
	Copy    Op = "copy"
	Dst     Op = "dst"
	SrcOver Op = "src_over"
	DstOver Op = "dst_over"
	SrcIn   Op = "src_in"
	DstIn   Op = "dst_in"
	SrcOut  Op = "src_out"
	DstOut  Op = "dst_out"
	SrcAtop Op = "src_atop"
	DstAtop Op = "dst_atop"
	Xor     Op = "xor"
)

// fractions returns the source and backdrop fractions of the operator
// for the source alpha as and the backdrop alpha ab.
func (op Op) fractions(as, ab float64) (float64, float64) {
	switch op {
	case Clear:
		return 0, 0
	case Copy:
		return 1, 0
	case Dst:
		return 0, 1
	case SrcOver:
		return 1, 1 - as
	case DstOver:
		return 1 - ab, 1
	case SrcIn:
		return ab, 0
	case DstIn:
		return 0, as
	case SrcOut:
		return 1 - ab, 0
	case DstOut:
		return 0, 1 - as
	case SrcAtop:
		return ab, 1 - as
	case DstAtop:
		return 1 - ab, as
	case Xor:
		return 1 - ab, 1 - as
	}
	return 1, 1 - as
}

func (op Op) valid() bool {
	switch op {
	case Clear, Copy, Dst, SrcOver, DstOver, SrcIn, DstIn, SrcOut, DstOut, SrcAtop, DstAtop, Xor:
		return true
	}
	return false
}

// Composite holds the active composition operator and blend mode.
type Composite struct {
	op    Op
	blend BlendMode
}

// NewComposite returns a composite drawing the source over the backdrop without blending.
func NewComposite() *Composite {
	return &Composite{op: SrcOver}
}

// Set activates one of the supported composition operators.
func (c *Composite) Set(op Op) error {
	if !op.valid() {
		return fmt.Errorf("unsupported composition operator %q", op)
	}
	c.op = op
	return nil
}

// Get returns the active composition operator.
func (c *Composite) Get() Op {
	return c.op
}

// SetBlend activates a blend mode. The empty mode disables blending.
func (c *Composite) SetBlend(mode BlendMode) error {
	if mode != "" && !mode.valid() {
		return fmt.Errorf("unsupported blend mode %q", mode)
	}
	c.blend = mode
	return nil
}

// Blend returns the active blend mode.
func (c *Composite) Blend() BlendMode {
	return c.blend
}

// Draw composes src with backdrop into dst over the bounds of dst. The three
// images are addressed with the same coordinates.
func (c *Composite) Draw(dst, src, backdrop *image.NRGBA) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetNRGBA(x, y, c.pixel(src.NRGBAAt(x, y), backdrop.NRGBAAt(x, y)))
		}
	}
}

func (c *Composite) pixel(s, d color.NRGBA) color.NRGBA {
	as, ab := float64(s.A)/255, float64(d.A)/255
	sc := [3]float64{float64(s.R) / 255, float64(s.G) / 255, float64(s.B) / 255}
	dc := [3]float64{float64(d.R) / 255, float64(d.G) / 255, float64(d.B) / 255}

	if c.blend != "" {
		for i := range sc {
			sc[i] = (1-ab)*sc[i] + ab*c.blend.mix(dc[i], sc[i])
		}
	}

	fs, fd := c.op.fractions(as, ab)
	a := fs*as + fd*ab
	if a <= 0 {
		return color.NRGBA{}
	}
	var out [3]uint8
	for i := range out {
		out[i] = toByte((fs*as*sc[i] + fd*ab*dc[i]) / a)
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: toByte(a)}
}

func toByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
