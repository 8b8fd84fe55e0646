package cart

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"io"
	"math/rand"
	"testing"

	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	patchSize = 16
	landmarks = 2
)

var meanShape = shape.Shape{{X: 0.3, Y: 0.5}, {X: 0.7, Y: 0.5}}

// halfPatch returns a patch whose left half has the intensity left and right half the intensity right.
func halfPatch(left, right uint8) *imgproc.Patch {
	img := image.NewGray(image.Rect(0, 0, patchSize, patchSize))
	for y := 0; y < patchSize; y++ {
		for x := 0; x < patchSize; x++ {
			c := left
			if x >= patchSize/2 {
				c = right
			}
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}
	return imgproc.PatchFromImage(img, patchSize)
}

func samples(n int, left, right uint8, truth shape.Shape) []*dataset.Sample {
	out := make([]*dataset.Sample, n)
	for i := range out {
		out[i] = &dataset.Sample{
			Patch:   halfPatch(left, right),
			Truth:   truth.Clone(),
			Current: meanShape.Clone(),
			Weight:  1 / float64(n),
		}
	}
	return out
}

func TestCart_LeafTraversal(t *testing.T) {
	assert := assert.New(t)

	c := New(1, landmarks)
	// Compare a pixel left of landmark 0 with one right of landmark 1.
	c.Features[0] = Feature{Level: imgproc.Full, Landmark1: 0, Landmark2: 1, Dx1: -0.1, Dx2: 0.1}
	c.Splits[0] = 0
	c.Scores = []float64{-1, 1}
	c.Deltas[1] = shape.Shape{{X: 0.01, Y: 0}, {X: 0, Y: 0.02}}

	s := meanShape.Clone()
	score, leaf := c.Eval(halfPatch(200, 10), s)
	assert.Equal(1, leaf)
	assert.Equal(1.0, score)
	assert.InDelta(0.31, s[0].X, 1e-12)
	assert.InDelta(0.52, s[1].Y, 1e-12)

	s = meanShape.Clone()
	score, leaf = c.Eval(halfPatch(10, 200), s)
	assert.Equal(0, leaf)
	assert.Equal(-1.0, score)
	assert.True(s.Equal(meanShape))
}

func TestCart_TrainSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pos := samples(20, 220, 20, meanShape)
	neg := samples(20, 20, 220, nil)

	c := New(2, landmarks)
	c.Train(rng, pos, neg, Params{FeatureCount: 200, Radius: 0.3, ClassProb: 1, Shrinkage: 1})

	for _, s := range pos {
		score, _ := c.Eval(s.Patch, s.Current.Clone())
		assert.Greater(t, score, 0.0)
	}
	for _, s := range neg {
		score, _ := c.Eval(s.Patch, meanShape.Clone())
		assert.Less(t, score, 0.0)
	}
}

func TestCart_LeafDeltasFollowResidual(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	truth := meanShape.Clone().Add(shape.Shape{{X: 0.1, Y: 0}, {X: 0, Y: -0.05}})
	pos := samples(10, 120, 80, truth)

	c := New(2, landmarks)
	c.Train(rng, pos, nil, Params{FeatureCount: 10, Radius: 0.2, ClassProb: 0, Shrinkage: 0.5})

	leaf := c.Leaf(pos[0].Patch, pos[0].Current)
	assert.InDelta(t, 0.05, c.Deltas[leaf][0].X, 1e-12)
	assert.InDelta(t, -0.025, c.Deltas[leaf][1].Y, 1e-12)
}

func TestBoostCart_GlobalRegression(t *testing.T) {
	assert := assert.New(t)

	b := NewBoostCart()
	b.Carts = append(b.Carts, New(1, landmarks))
	assert.False(b.Sealed())

	r0 := shape.Shape{{X: 0.1, Y: 0}, {X: 0.1, Y: 0}}
	r1 := shape.Shape{{X: 0, Y: -0.2}, {X: 0, Y: -0.2}}
	pos := []*dataset.Sample{
		{Current: meanShape.Clone(), Truth: meanShape.Clone().Add(r0), Leaves: []int{0}},
		{Current: meanShape.Clone(), Truth: meanShape.Clone().Add(r1), Leaves: []int{1}},
	}
	b.TrainGlobal(pos, 0, 2)
	require.True(t, b.Sealed())

	for i, r := range []shape.Shape{r0, r1} {
		for j := range r {
			assert.InDelta(r[j].X, b.Global[0][i][j].X, 1e-12)
			assert.InDelta(r[j].Y, b.Global[0][i][j].Y, 1e-12)
		}
	}

	s := meanShape.Clone()
	b.Regress(s, []int{1})
	assert.InDelta(0.3, s[0].X, 1e-12)
	assert.InDelta(0.3, s[0].Y, 1e-12)
}

func trainedStage(t *testing.T) *BoostCart {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	pos := samples(8, 200, 40, meanShape.Clone().Add(shape.Shape{{X: 0.02, Y: 0.01}, {X: -0.01, Y: 0}}))
	neg := samples(8, 40, 200, nil)

	b := NewBoostCart()
	for k := 0; k < 2; k++ {
		c := New(2, landmarks)
		c.Train(rng, pos, neg, Params{FeatureCount: 5, Radius: 0.2, ClassProb: 0.5, Shrinkage: 0.3})
		c.Threshold = -0.5 * float64(k+1)
		for _, s := range pos {
			_, leaf := c.Eval(s.Patch, s.Current)
			s.Leaves = append(s.Leaves, leaf)
		}
		b.Carts = append(b.Carts, c)
	}
	b.TrainGlobal(pos, 1, 1)
	return b
}

func TestCodec_RoundTrip(t *testing.T) {
	b := trainedStage(t)

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	b.Encode(enc)
	require.NoError(t, enc.Err())

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	got := DecodeBoostCart(dec, 2, 2, landmarks)
	require.NoError(t, dec.Err())
	assert.Equal(t, b, got)
	assert.Equal(t, -1.0, got.Threshold())
}

func TestCodec_RejectsMalformedRecords(t *testing.T) {
	b := trainedStage(t)

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	b.Encode(enc)
	data := buf.Bytes()

	t.Run("truncated", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(data[:len(data)-3]))
		assert.Nil(t, DecodeBoostCart(dec, 2, 2, landmarks))
		assert.True(t, errors.Is(dec.Err(), io.ErrUnexpectedEOF))
	})
	t.Run("depth mismatch", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(data))
		assert.Nil(t, DecodeBoostCart(dec, 2, 3, landmarks))
		assert.ErrorIs(t, dec.Err(), ErrRecord)
	})
	t.Run("landmark mismatch", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(data))
		assert.Nil(t, DecodeBoostCart(dec, 2, 2, 5))
		assert.ErrorIs(t, dec.Err(), ErrRecord)
	})
	t.Run("cart count mismatch", func(t *testing.T) {
		dec := NewDecoder(bytes.NewReader(data))
		assert.Nil(t, DecodeBoostCart(dec, 3, 2, landmarks))
		assert.ErrorIs(t, dec.Err(), ErrRecord)
	})
}
