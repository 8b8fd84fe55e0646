// Package dataset implements the training sample store: positive faces with
// their ground truth landmarks and the pool of negative background patches.
package dataset

import (
	"image"
	"math"
	"sort"

	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

// Sample is a single training example together with its running cascade state.
type Sample struct {
	Patch *imgproc.Patch
	// Truth is the ground truth shape in normalized window coordinates. Nil for negatives.
	Truth shape.Shape
	// Current is the shape estimate after all the units evaluated so far.
	Current shape.Shape
	Score   float64
	Weight  float64
	// Leaves holds the leaf reached in every unit of the stage under training.
	Leaves []int
}

// Residual returns the remaining shape error of a positive sample.
func (s *Sample) Residual() shape.Shape {
	return s.Truth.Sub(s.Current)
}

// DataSet is an ordered collection of samples of the same label.
type DataSet struct {
	Positive bool
	Samples  []*Sample
	// Generator supplies fresh background patches for hard negative mining.
	Generator *Generator
}

// NewPositive returns an empty face sample set.
func NewPositive() *DataSet {
	return &DataSet{Positive: true}
}

// NewNegative returns an empty background sample set mined from the generator.
func NewNegative(gen *Generator) *DataSet {
	return &DataSet{Generator: gen}
}

// Size returns the number of samples.
func (d *DataSet) Size() int {
	return len(d.Samples)
}

// Add appends the samples to the set.
func (d *DataSet) Add(samples ...*Sample) {
	d.Samples = append(d.Samples, samples...)
}

// AddFace crops the face region out of img and stores it as a positive sample.
// The landmarks are given in img pixel coordinates.
func (d *DataSet) AddFace(img *image.Gray, face image.Rectangle, landmarks shape.Shape, size int) *Sample {
	s := &Sample{
		Patch: imgproc.NewPatch(img, face, size),
		Truth: landmarks.FromRect(face),
	}
	d.Add(s)
	return s
}

// AddBackground stores a window sized background patch as a negative sample.
func (d *DataSet) AddBackground(img *image.Gray, size int) *Sample {
	s := &Sample{Patch: imgproc.PatchFromImage(img, size)}
	d.Add(s)
	return s
}

// Prune removes every sample for which keep returns false and reports how many were removed.
// The relative order of the kept samples is preserved.
func (d *DataSet) Prune(keep func(*Sample) bool) int {
	n := 0
	for _, s := range d.Samples {
		if keep(s) {
			d.Samples[n] = s
			n++
		}
	}
	removed := len(d.Samples) - n
	for i := n; i < len(d.Samples); i++ {
		d.Samples[i] = nil
	}
	d.Samples = d.Samples[:n]
	return removed
}

// Truncate shrinks the set to at most n samples.
func (d *DataSet) Truncate(n int) {
	if n < 0 || n >= len(d.Samples) {
		return
	}
	for i := n; i < len(d.Samples); i++ {
		d.Samples[i] = nil
	}
	d.Samples = d.Samples[:n]
}

// Reset puts every sample back to the cascade entry state: the mean shape and a zero score.
func (d *DataSet) Reset(mean shape.Shape) {
	for _, s := range d.Samples {
		s.Current = mean.Clone()
		s.Score = 0
		s.Leaves = s.Leaves[:0]
	}
}

// ClearLeaves forgets the leaves recorded for the stage under training.
func (d *DataSet) ClearLeaves() {
	for _, s := range d.Samples {
		s.Leaves = s.Leaves[:0]
	}
}

// Truths returns the ground truth shapes of the samples.
func (d *DataSet) Truths() []shape.Shape {
	truths := make([]shape.Shape, 0, len(d.Samples))
	for _, s := range d.Samples {
		truths = append(truths, s.Truth)
	}
	return truths
}

// UpdateWeights recomputes the boosting weights w = exp(-y*score), where y is +1
// for faces and -1 for backgrounds, and normalizes them to sum up to one.
func (d *DataSet) UpdateWeights() {
	if len(d.Samples) == 0 {
		return
	}
	y := -1.0
	if d.Positive {
		y = 1.0
	}
	hi := math.Inf(-1)
	for _, s := range d.Samples {
		hi = math.Max(hi, -y*s.Score)
	}
	var sum float64
	for _, s := range d.Samples {
		s.Weight = math.Exp(-y*s.Score - hi)
		sum += s.Weight
	}
	for _, s := range d.Samples {
		s.Weight /= sum
	}
}

// Threshold returns the highest score which keeps at least the recall
// fraction of samples at or above it.
func (d *DataSet) Threshold(recall float64) float64 {
	scores := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		scores[i] = s.Score
	}
	return ScoreThreshold(scores, recall)
}

// ScoreThreshold returns the highest value of scores which keeps at least the
// recall fraction of them at or above it. The slice is sorted in place.
func ScoreThreshold(scores []float64, recall float64) float64 {
	if len(scores) == 0 {
		return math.Inf(-1)
	}
	sort.Float64s(scores)

	drop := int(math.Floor((1 - recall) * float64(len(scores))))
	if drop >= len(scores) {
		drop = len(scores) - 1
	}
	if drop < 0 {
		drop = 0
	}
	return scores[drop]
}

// MeanError returns the average landmark error of the positive samples.
func (d *DataSet) MeanError() float64 {
	if len(d.Samples) == 0 || !d.Positive {
		return 0
	}
	var sum float64
	for _, s := range d.Samples {
		sum += s.Current.Error(s.Truth)
	}
	return sum / float64(len(d.Samples))
}
