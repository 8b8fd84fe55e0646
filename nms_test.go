package jda

import (
	"image"
	"math"
	"testing"

	"github.com/esimov/jda/shape"
	"github.com/stretchr/testify/assert"
)

func det(x, y, size int, score float64) Detection {
	r := image.Rect(x, y, x+size, y+size)
	return Detection{Rect: r, Score: score, Shape: shape.Shape{{X: float64(x), Y: float64(y)}}}
}

func TestNMS_IoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	assert.Equal(t, 1.0, iou(a, a))
	assert.Equal(t, 0.0, iou(a, image.Rect(10, 0, 20, 10)))
	assert.InDelta(t, 50.0/150.0, iou(a, image.Rect(5, 0, 15, 10)), 1e-12)
}

func TestNMS_KeepsHighestScore(t *testing.T) {
	assert := assert.New(t)
	dets := []Detection{
		det(0, 0, 20, 1),
		det(2, 2, 20, 3),
		det(100, 100, 20, 0.5),
		det(1, 0, 20, 2),
	}
	out := suppress(dets, 0.3, MergeMax)
	assert.Equal([]Detection{dets[1], dets[2]}, out)
	assert.Equal(det(0, 0, 20, 1), dets[0], "the input is not reordered")

	// Nothing overlaps by more than 100%.
	assert.Len(suppress(dets, 1, MergeMax), 4)
	assert.Empty(suppress(nil, 0.3, MergeMax))
}

func TestNMS_TieBreak(t *testing.T) {
	dets := []Detection{
		det(4, 2, 20, 1),
		det(2, 4, 20, 1),
		det(2, 2, 24, 1),
		det(2, 2, 20, 1),
	}
	out := suppress(dets, 0.3, MergeMax)
	assert.Equal(t, []Detection{dets[3]}, out, "ties go to the top-most, left-most, smallest window")
}

func TestNMS_Average(t *testing.T) {
	assert := assert.New(t)
	dets := []Detection{det(0, 0, 20, 2), det(4, 0, 20, 2), det(200, 0, 20, 1)}

	out := suppress(dets, 0.3, MergeAverage)
	assert.Len(out, 2)
	assert.Equal(image.Rect(2, 0, 22, 20), out[0].Rect)
	assert.Equal(2.0, out[0].Score)
	assert.InDelta(2.0, out[0].Shape[0].X, 1e-12)
	assert.Equal(dets[2], out[1], "single detections are kept as is")

	w := math.Exp(-1)
	dets = []Detection{det(0, 0, 20, 3), det(6, 0, 20, 2)}
	out = suppress(dets, 0.3, MergeAverage)
	assert.Len(out, 1)
	assert.Equal(3.0, out[0].Score)
	assert.InDelta(6*w/(1+w), out[0].Shape[0].X, 1e-12)
	assert.Equal(int(math.Round(6*w/(1+w))), out[0].Rect.Min.X)
}
