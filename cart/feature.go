package cart

import (
	"math/rand"

	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

// Feature is a shape indexed pixel difference. Both pixels are located relative
// to a landmark of the current shape estimate and read from one of the patch levels.
type Feature struct {
	Level     int
	Landmark1 int
	Landmark2 int
	Dx1, Dy1  float64
	Dx2, Dy2  float64
}

// Value returns the intensity difference of the two feature pixels, in [-255, 255].
func (f *Feature) Value(p *imgproc.Patch, s shape.Shape) int {
	l1, l2 := s[f.Landmark1], s[f.Landmark2]
	a := p.Pixel(f.Level, l1.X+f.Dx1, l1.Y+f.Dy1)
	b := p.Pixel(f.Level, l2.X+f.Dx2, l2.Y+f.Dy2)
	return int(a) - int(b)
}

// randomFeature draws a feature whose pixels lie within radius of their landmarks.
func randomFeature(rng *rand.Rand, landmarks int, radius float64) Feature {
	offset := func() float64 {
		return (2*rng.Float64() - 1) * radius
	}
	return Feature{
		Level:     rng.Intn(imgproc.Levels),
		Landmark1: rng.Intn(landmarks),
		Landmark2: rng.Intn(landmarks),
		Dx1:       offset(),
		Dy1:       offset(),
		Dx2:       offset(),
		Dy2:       offset(),
	}
}
