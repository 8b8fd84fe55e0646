package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/esimov/jda"
	"github.com/esimov/jda/imop"
	"golang.org/x/image/bmp"
)

// decodeImg decodes the source image. BMP, JPEG and PNG files are supported.
func decodeImg(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("could not decode the source image: %w", err)
	}
	return img, nil
}

// encodeImg encodes the image in the format given by the extension of the
// destination file. Pipes are written as PNG.
func encodeImg(w io.Writer, img image.Image) error {
	f, ok := w.(*os.File)
	if !ok || f == os.Stdout {
		return png.Encode(w, img)
	}
	switch ext := strings.ToLower(filepath.Ext(f.Name())); ext {
	case "", ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 100})
	case ".png":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	default:
		return errors.New("unsupported image format")
	}
}

// markerStyle describes how the detections are drawn over the source image.
type markerStyle struct {
	rect      color.NRGBA
	landmark  color.NRGBA
	thickness int
	radius    float64
}

// annotate draws the face rectangles and their landmarks on a layer and
// composes it over the source image.
func annotate(img image.Image, faces []jda.Detection, style markerStyle, comp *imop.Composite) *image.NRGBA {
	layer := imop.NewLayer(img.Bounds())
	for _, f := range faces {
		layer.Rect(f.Rect, style.rect, style.thickness)
		for _, p := range f.Shape {
			layer.Dot(p.X, p.Y, style.radius, style.landmark)
		}
	}
	return imop.Annotate(img, layer, comp)
}
