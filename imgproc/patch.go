package imgproc

import (
	"image"

	"github.com/esimov/jda/utils"
)

// Patch resolution levels.
const (
	Full = iota
	Half
	Quarter
	Levels
)

// Patch holds the three resolution views of one candidate window.
// The views are computed once per window so that the features
// reading coarser levels do not resize the window again.
type Patch struct {
	Views [Levels]*image.Gray
}

// NewPatch crops the region r out of src and resamples it to size, size/2 and size/4 pixels.
func NewPatch(src *image.Gray, r image.Rectangle, size int) *Patch {
	full := Resize(Crop(src, r), size, size)
	return &Patch{Views: [Levels]*image.Gray{
		full,
		Resize(full, utils.Max(size/2, 1), utils.Max(size/2, 1)),
		Resize(full, utils.Max(size/4, 1), utils.Max(size/4, 1)),
	}}
}

// PatchFromImage builds a patch from a window sized image.
func PatchFromImage(img *image.Gray, size int) *Patch {
	return NewPatch(img, img.Bounds(), size)
}

// Pixel returns the intensity at the normalized coordinate (x, y) of the given level.
// Coordinates outside of the window are clamped to its border.
func (p *Patch) Pixel(level int, x, y float64) uint8 {
	img := p.Views[level]
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	px := utils.Clamp(int(x*float64(w)), 0, w-1)
	py := utils.Clamp(int(y*float64(h)), 0, h-1)
	return img.Pix[img.PixOffset(b.Min.X+px, b.Min.Y+py)]
}

// Size returns the side length of the full resolution view.
func (p *Patch) Size() int {
	return p.Views[Full].Bounds().Dx()
}

// Compact copies the views into their own buffers, releasing the pyramid level
// a window patch was sliced from.
func (p *Patch) Compact() *Patch {
	c := &Patch{}
	for i, v := range p.Views {
		c.Views[i] = compact(v)
	}
	return c
}
