// Package imgproc implements the image primitives used by the cascade:
// grayscale conversion, resizing, cropping, the three resolution patch views
// and the image pyramid used by the sliding window detector.
package imgproc

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/esimov/jda/utils"
	pigo "github.com/esimov/pigo/core"
)

// ToGray converts any image type to a single channel *image.Gray with min-point at (0, 0).
func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	if g, ok := src.(*image.Gray); ok && b.Min.X == 0 && b.Min.Y == 0 {
		return g
	}
	if b.Min.X != 0 || b.Min.Y != 0 {
		// pigo expects the image origin to be at (0, 0).
		src = imaging.Clone(src)
	}
	return &image.Gray{
		Pix:    pigo.RgbToGrayscale(src),
		Stride: b.Dx(),
		Rect:   image.Rect(0, 0, b.Dx(), b.Dy()),
	}
}

// FromParams wraps the pixel buffer of a pigo image into an *image.Gray without copying.
func FromParams(p pigo.ImageParams) *image.Gray {
	return &image.Gray{
		Pix:    p.Pixels,
		Stride: p.Dim,
		Rect:   image.Rect(0, 0, p.Cols, p.Rows),
	}
}

// ToParams exposes a grayscale image as pigo image parameters.
func ToParams(g *image.Gray) pigo.ImageParams {
	g = compact(g)
	return pigo.ImageParams{
		Pixels: g.Pix,
		Rows:   g.Rect.Dy(),
		Cols:   g.Rect.Dx(),
		Dim:    g.Stride,
	}
}

// Resize resamples the grayscale image to the provided width and height.
func Resize(src *image.Gray, width, height int) *image.Gray {
	if width <= 0 || height <= 0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return compact(src)
	}
	return nrgbaToGray(imaging.Resize(src, width, height, imaging.Linear))
}

// Crop returns the region r of the source image as a new image with min-point at (0, 0).
// The parts of r lying outside of the source are filled by replicating the border pixels.
func Crop(src *image.Gray, r image.Rectangle) *image.Gray {
	b := src.Bounds()
	if r.In(b) {
		return compact(src.SubImage(r).(*image.Gray))
	}
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	if b.Empty() {
		return dst
	}
	for y := 0; y < r.Dy(); y++ {
		sy := utils.Clamp(r.Min.Y+y, b.Min.Y, b.Max.Y-1)
		for x := 0; x < r.Dx(); x++ {
			sx := utils.Clamp(r.Min.X+x, b.Min.X, b.Max.X-1)
			dst.Pix[y*dst.Stride+x] = src.Pix[src.PixOffset(sx, sy)]
		}
	}
	return dst
}

// compact returns an image whose origin is (0, 0) and whose stride equals its width.
func compact(src *image.Gray) *image.Gray {
	b := src.Bounds()
	if b.Min.X == 0 && b.Min.Y == 0 && src.Stride == b.Dx() {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		i := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[i:i+b.Dx()])
	}
	return dst
}

// nrgbaToGray keeps the red channel of an image produced from a grayscale source.
func nrgbaToGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := y * dst.Stride
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[di+x] = src.Pix[si+4*x]
		}
	}
	return dst
}
