package imop

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComp_Basic(t *testing.T) {
	assert := assert.New(t)

	op := NewComposite()
	assert.Equal(SrcOver, op.Get())

	assert.NoError(op.Set(Clear))
	assert.Equal(Clear, op.Get())
	assert.Error(op.Set("unsupported_composite_operation"))
	assert.Equal(Clear, op.Get())

	assert.NoError(op.SetBlend(""))
	assert.Error(op.SetBlend("hue"))
}

func TestComp_Ops(t *testing.T) {
	transparent := color.NRGBA{}
	cyan := color.NRGBA{R: 33, G: 150, B: 243, A: 255}
	magenta := color.NRGBA{R: 233, G: 30, B: 99, A: 255}

	rect := image.Rect(0, 0, 10, 10)
	source := image.NewNRGBA(rect)
	backdrop := image.NewNRGBA(rect)
	draw.Draw(source, image.Rect(0, 4, 6, 10), &image.Uniform{cyan}, image.Point{}, draw.Src)
	draw.Draw(backdrop, image.Rect(4, 0, 10, 6), &image.Uniform{magenta}, image.Point{}, draw.Src)

	// The top right pixel only belongs to the backdrop, the bottom left one
	// only to the source and the center one to both.
	cases := []struct {
		op                          Op
		topRight, bottomLeft, center color.NRGBA
	}{
		{Clear, transparent, transparent, transparent},
		{Copy, transparent, cyan, cyan},
		{Dst, magenta, transparent, magenta},
		{SrcOver, magenta, cyan, cyan},
		{DstOver, magenta, cyan, magenta},
		{SrcIn, transparent, transparent, cyan},
		{DstIn, transparent, transparent, magenta},
		{SrcOut, transparent, cyan, transparent},
		{DstOut, magenta, transparent, transparent},
		{SrcAtop, magenta, transparent, cyan},
		{DstAtop, transparent, cyan, magenta},
		{Xor, magenta, cyan, transparent},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			assert := assert.New(t)
			op := NewComposite()
			assert.NoError(op.Set(tc.op))

			out := image.NewNRGBA(rect)
			op.Draw(out, source, backdrop)
			assert.Equal(tc.topRight, out.NRGBAAt(9, 0))
			assert.Equal(tc.bottomLeft, out.NRGBAAt(0, 9))
			assert.Equal(tc.center, out.NRGBAAt(5, 5))
		})
	}
}

func TestComp_SemiTransparentSource(t *testing.T) {
	op := NewComposite()
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	dst := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 51})
	dst.SetNRGBA(0, 0, color.NRGBA{B: 255, A: 255})

	out := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	op.Draw(out, src, dst)
	assert.Equal(t, color.NRGBA{R: 51, B: 204, A: 255}, out.NRGBAAt(0, 0))
}
