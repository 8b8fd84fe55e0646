package jda

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testPatch = 16

// faceLandmarks is the layout of the synthetic faces: eyes, nose and mouth corners.
var faceLandmarks = shape.Shape{{X: 0.3, Y: 0.35}, {X: 0.7, Y: 0.35}, {X: 0.5, Y: 0.55}, {X: 0.35, Y: 0.75}, {X: 0.65, Y: 0.75}}

func uniform(w, h int, c uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: c}}, image.Point{}, draw.Src)
	return img
}

// syntheticFace draws dark blobs at jittered landmark positions over a bright background.
func syntheticFace(rng *rand.Rand, size int) (*image.Gray, shape.Shape) {
	img := uniform(size, size, uint8(170+rng.Intn(40)))
	pts := make(shape.Shape, len(faceLandmarks))
	for i, p := range faceLandmarks {
		x := p.X*float64(size) + float64(rng.Intn(3)-1)
		y := p.Y*float64(size) + float64(rng.Intn(3)-1)
		pts[i] = shape.Point{X: x, Y: y}
		r := image.Rect(int(x)-2, int(y)-2, int(x)+2, int(y)+2)
		draw.Draw(img, r, &image.Uniform{color.Gray{Y: uint8(20 + rng.Intn(30))}}, image.Point{}, draw.Src)
	}
	return img, pts
}

func noise(rng *rand.Rand, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	return img
}

// trainingSets builds n synthetic faces and a negative pool mined from noise backgrounds.
func trainingSets(seed int64, n int) (*dataset.DataSet, *dataset.DataSet) {
	rng := rand.New(rand.NewSource(seed))
	pos := dataset.NewPositive()
	for i := 0; i < n; i++ {
		img, pts := syntheticFace(rng, 32)
		pos.AddFace(img, img.Bounds(), pts, testPatch)
	}
	gen := dataset.NewGenerator(testPatch, noise(rng, 48, 48), noise(rng, 64, 40))
	return pos, dataset.NewNegative(gen)
}

func testParams() TrainParams {
	p := DefaultTrainParams()
	p.PatchSize = testPatch
	p.Features = 20
	p.Radius = []float64{0.3, 0.2}
	p.ClassProb = []float64{0.8, 0.5}
	p.Recall = []float64{0.95}
	p.Shrinkage = 0.5
	p.Sweeps = 1
	p.MiningBatch = 16
	p.MiningRounds = 10
	p.Workers = 3
	return p
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTrainer(t *testing.T, cfg Config, sink CheckpointSink) *Trainer {
	t.Helper()
	m, err := NewModel(cfg)
	require.NoError(t, err)
	tr := NewTrainer(m, testParams(), sink)
	tr.Logger = quietLogger()
	return tr
}

var errSinkFull = errors.New("sink full")

// memorySink keeps the checkpoints in memory and fails every write after the limit.
type memorySink struct {
	mu      sync.Mutex
	limit   int
	cursors []Cursor
	records [][]byte
}

func (s *memorySink) Persist(cur Cursor, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.records) >= s.limit {
		return errSinkFull
	}
	s.cursors = append(s.cursors, cur)
	s.records = append(s.records, append([]byte(nil), record...))
	return nil
}

func (s *memorySink) last() (Cursor, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[len(s.cursors)-1], s.records[len(s.records)-1]
}

// stage builds a sealed stage of depth one carts. Every cart reads the same
// feature, adds score whatever the leaf and shifts every landmark by delta.
func stage(landmarks int, scores, thresholds []float64, delta float64) *cart.BoostCart {
	b := cart.NewBoostCart()
	for i := range scores {
		c := cart.New(1, landmarks)
		c.Scores = []float64{scores[i], scores[i]}
		for l := range c.Deltas {
			for j := range c.Deltas[l] {
				c.Deltas[l][j] = shape.Point{X: delta, Y: delta}
			}
		}
		c.Threshold = thresholds[i]
		b.Carts = append(b.Carts, c)
	}
	b.Global = make([][]shape.Shape, len(b.Carts))
	for k := range b.Global {
		b.Global[k] = []shape.Shape{shape.New(landmarks), shape.New(landmarks)}
	}
	return b
}

func serialize(t *testing.T, m *Model, cur Cursor) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, m, cur))
	return buf.Bytes()
}

func blankPatch() *imgproc.Patch {
	return imgproc.PatchFromImage(uniform(testPatch, testPatch, 100), testPatch)
}
