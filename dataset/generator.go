package dataset

import (
	"image"
	"math"
	"math/rand"

	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/utils"
)

// Generator draws background windows from a set of face free images. The windows
// are produced the same way the detector visits an image: one pyramid level is
// built for a window size and scanned with a fixed stride.
type Generator struct {
	Backgrounds []*image.Gray
	// PatchSize is the side length of the produced full resolution view.
	PatchSize int
	// MinSize is the smallest window taken out of a background, in image pixels.
	MinSize int
	// ScaleFactor is the growth ratio between two successive window sizes.
	ScaleFactor float64
	// ShiftFactor is the scan stride relative to the window size.
	ShiftFactor float64
}

// NewGenerator creates a background generator over the provided images.
func NewGenerator(patchSize int, backgrounds ...*image.Gray) *Generator {
	return &Generator{
		Backgrounds: backgrounds,
		PatchSize:   patchSize,
		MinSize:     patchSize,
		ScaleFactor: 1.2,
		ShiftFactor: 0.25,
	}
}

// Windows picks a background and a window size at random and scans the matching
// pyramid level from a random offset. At most limit windows, in a random order,
// are returned. The result is empty when no background can hold a window.
func (g *Generator) Windows(rng *rand.Rand, limit int) []*Sample {
	usable := make([]*image.Gray, 0, len(g.Backgrounds))
	for _, bg := range g.Backgrounds {
		if b := bg.Bounds(); utils.Min(b.Dx(), b.Dy()) >= g.minSize() {
			usable = append(usable, bg)
		}
	}
	if len(usable) == 0 || limit <= 0 {
		return nil
	}
	bg := usable[rng.Intn(len(usable))]
	b := bg.Bounds()

	sizes := imgproc.WindowSizes(b.Dx(), b.Dy(), g.minSize(), 0, g.scaleFactor())
	if len(sizes) == 0 {
		return nil
	}
	level := imgproc.NewLevel(bg, sizes[rng.Intn(len(sizes))], g.PatchSize)
	lb := level.Image.Bounds()

	step := utils.Max(1, int(math.Round(float64(g.PatchSize)*g.ShiftFactor)))
	ox, oy := rng.Intn(step), rng.Intn(step)

	var positions []image.Point
	for y := oy; y+g.PatchSize <= lb.Dy(); y += step {
		for x := ox; x+g.PatchSize <= lb.Dx(); x += step {
			positions = append(positions, image.Pt(x, y))
		}
	}
	rng.Shuffle(len(positions), func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})
	if len(positions) > limit {
		positions = positions[:limit]
	}

	samples := make([]*Sample, len(positions))
	for i, pt := range positions {
		samples[i] = &Sample{Patch: level.Window(pt.X, pt.Y, g.PatchSize).Compact()}
	}
	return samples
}

func (g *Generator) minSize() int {
	if g.MinSize > 0 {
		return g.MinSize
	}
	return utils.Max(g.PatchSize, 1)
}

func (g *Generator) scaleFactor() float64 {
	if g.ScaleFactor > 1 {
		return g.ScaleFactor
	}
	return 1.2
}
