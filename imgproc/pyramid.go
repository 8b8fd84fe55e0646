package imgproc

import (
	"image"
	"math"

	"github.com/esimov/jda/utils"
)

// Level is one scale of the image pyramid together with its half and quarter
// resolution copies, so the window views can be sliced without resampling.
type Level struct {
	Image   *image.Gray
	Half    *image.Gray
	Quarter *image.Gray
	// Scale is the ratio between the original image and this level.
	Scale float64
	// FaceSize is the side length of the searched window in original image pixels.
	FaceSize float64
}

// WindowSizes returns the face sizes, in original image pixels, searched over an image
// of width x height pixels. Sizes start at minSize and grow by factor until they exceed
// maxSize or the shorter image side. A non positive maxSize means no upper limit.
func WindowSizes(width, height, minSize, maxSize int, factor float64) []float64 {
	limit := utils.Min(width, height)
	if maxSize > 0 {
		limit = utils.Min(limit, maxSize)
	}
	if minSize <= 0 || factor <= 1 {
		return nil
	}
	var sizes []float64
	for size := float64(minSize); size <= float64(limit); size *= factor {
		sizes = append(sizes, size)
	}
	return sizes
}

// NewLevel downscales src so that a face of faceSize pixels fits into a window of window pixels.
func NewLevel(src *image.Gray, faceSize float64, window int) Level {
	b := src.Bounds()
	scale := faceSize / float64(window)
	w := int(math.Round(float64(b.Dx()) / scale))
	h := int(math.Round(float64(b.Dy()) / scale))
	img := Resize(src, w, h)

	return Level{
		Image:    img,
		Half:     Resize(img, utils.Max(w/2, 1), utils.Max(h/2, 1)),
		Quarter:  Resize(img, utils.Max(w/4, 1), utils.Max(h/4, 1)),
		Scale:    scale,
		FaceSize: faceSize,
	}
}

// Window returns the patch views of the window whose top-left corner is (x, y)
// in level coordinates. The views share the level pixel buffers.
func (l Level) Window(x, y, size int) *Patch {
	return &Patch{Views: [Levels]*image.Gray{
		l.Image.SubImage(image.Rect(x, y, x+size, y+size)).(*image.Gray),
		l.Half.SubImage(image.Rect(x/2, y/2, x/2+utils.Max(size/2, 1), y/2+utils.Max(size/2, 1))).(*image.Gray),
		l.Quarter.SubImage(image.Rect(x/4, y/4, x/4+utils.Max(size/4, 1), y/4+utils.Max(size/4, 1))).(*image.Gray),
	}}
}

// Rect maps the window at (x, y) of this level back to original image coordinates.
func (l Level) Rect(x, y, size int) image.Rectangle {
	x0 := int(math.Round(float64(x) * l.Scale))
	y0 := int(math.Round(float64(y) * l.Scale))
	s := int(math.Round(float64(size) * l.Scale))
	return image.Rect(x0, y0, x0+s, y0+s)
}
