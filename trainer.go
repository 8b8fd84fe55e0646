package jda

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/metrics"
	"github.com/esimov/jda/shape"
	"github.com/esimov/jda/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Trainer drives the stage by stage, unit by unit boosting of a Model.
// The sample sets are only borrowed for the duration of a Train or Resume call.
type Trainer struct {
	Model  *Model
	Params TrainParams
	// Sink receives a checkpoint after every unit and every sealed stage.
	// Checkpointing is disabled when nil.
	Sink    CheckpointSink
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	// aligned is the cursor the negative pool was last mined at.
	aligned *Cursor
}

// NewTrainer creates a trainer logging through the standard logrus logger.
func NewTrainer(m *Model, p TrainParams, sink CheckpointSink) *Trainer {
	return &Trainer{
		Model:  m,
		Params: p,
		Sink:   sink,
		Logger: logrus.StandardLogger(),
	}
}

func (t *Trainer) log() logrus.FieldLogger {
	if t.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.Logger
}

// Train advances the model from cur until every stage is sealed and returns the
// final cursor. Every unit is followed by a checkpoint and by hard negative
// mining against the partial cascade it completes. All units of a stage are
// followed by the global shape regression, after which the stage is sealed and
// checkpointed as well.
//
// pos must hold the faces with their ground truth shapes and neg the negative
// pool, grown from its Generator. Training from Start computes the mean shape
// when the model has none and resets the positive samples. Training from any
// other cursor expects the sample sets to be in the state left by a previous
// Train or Resume call.
//
// On error the returned cursor is the last one persisted to the sink: a unit or
// a stage whose checkpoint could not be written is removed from the model. A
// cancelled context stops the training between units and mining rounds.
func (t *Trainer) Train(ctx context.Context, cur Cursor, pos, neg *dataset.DataSet) (Cursor, error) {
	m := t.Model
	if err := t.Params.Validate(); err != nil {
		return cur, err
	}
	if err := m.check(cur); err != nil {
		return cur, err
	}
	if cur.Stage == m.Config.Stages {
		return cur, ErrTrained
	}
	if pos.Size() == 0 {
		return cur, errors.New("jda: no positive samples to train on")
	}

	if cur == Start {
		if m.MeanShape == nil {
			mean, err := shape.Mean(pos.Truths())
			if err != nil {
				return cur, errors.Wrap(err, "computing the mean shape")
			}
			m.MeanShape = mean
		}
		if len(m.MeanShape) != m.Config.Landmarks {
			return cur, fmt.Errorf("jda: positives have %d landmarks, the model expects %d",
				len(m.MeanShape), m.Config.Landmarks)
		}
		pos.Reset(m.MeanShape)
	}

	start := time.Now()
	t.log().WithFields(logrus.Fields{
		"stage": cur.Stage,
		"cart":  cur.Unit,
		"pos":   pos.Size(),
		"neg":   neg.Size(),
	}).Info("training started")

	// A pool left by Resume or by a failed Train call is already mined at cur.
	if t.aligned == nil || *t.aligned != cur {
		if err := t.align(ctx, cur, pos, neg); err != nil {
			return cur, err
		}
	}
	for cur.Stage < m.Config.Stages {
		for cur.Unit < m.Config.Carts-1 {
			if err := ctx.Err(); err != nil {
				return cur, err
			}
			next, err := t.trainUnit(cur, pos, neg)
			if err != nil {
				return cur, err
			}
			cur = next
			if err := t.align(ctx, cur, pos, neg); err != nil {
				return cur, err
			}
		}

		if err := ctx.Err(); err != nil {
			return cur, err
		}
		next, err := t.seal(cur, pos)
		if err != nil {
			return cur, err
		}
		cur = next
		if cur.Stage < m.Config.Stages {
			if err := t.align(ctx, cur, pos, neg); err != nil {
				return cur, err
			}
		}
	}

	t.log().WithFields(logrus.Fields{
		"pos":     pos.Size(),
		"error":   pos.MeanError(),
		"elapsed": utils.FormatTime(time.Since(start)),
	}).Info("training finished")
	return cur, nil
}

// trainUnit trains the unit following cur on the current boosting weights and
// shape residuals, checkpoints it and then applies it to the positive samples.
func (t *Trainer) trainUnit(cur Cursor, pos, neg *dataset.DataSet) (Cursor, error) {
	var (
		m     = t.Model
		next  = Cursor{Stage: cur.Stage, Unit: cur.Unit + 1}
		start = time.Now()
	)
	pos.UpdateWeights()
	neg.UpdateWeights()

	c := cart.New(m.Config.Depth, m.Config.Landmarks)
	c.Train(t.rand(next, 0), pos.Samples, neg.Samples, t.Params.cartParams(next.Stage))

	leaves := make([]int, pos.Size())
	scores := make([]float64, pos.Size())
	for i, s := range pos.Samples {
		leaves[i] = c.Leaf(s.Patch, s.Current)
		scores[i] = s.Score + c.Scores[leaves[i]]
	}
	recall := stageValue(t.Params.Recall, next.Stage)
	c.Threshold = dataset.ScoreThreshold(append([]float64(nil), scores...), recall)

	m.Partial.Carts = append(m.Partial.Carts, c)
	if err := t.checkpoint(next); err != nil {
		m.Partial.Carts = m.Partial.Carts[:len(m.Partial.Carts)-1]
		return cur, err
	}

	for i, s := range pos.Samples {
		s.Score = scores[i]
		s.Current.Add(c.Deltas[leaves[i]])
		s.Leaves = append(s.Leaves, leaves[i])
	}
	dropped := pos.Prune(func(s *dataset.Sample) bool {
		return s.Score >= c.Threshold
	})

	t.log().WithFields(logrus.Fields{
		"stage":     next.Stage,
		"cart":      next.Unit,
		"pos":       pos.Size(),
		"neg":       neg.Size(),
		"dropped":   dropped,
		"threshold": c.Threshold,
		"error":     pos.MeanError(),
		"elapsed":   utils.FormatTime(time.Since(start)),
	}).Info("unit trained")
	return next, nil
}

// seal trains the global shape regression of the completed stage, appends the
// stage to the cascade and checkpoints it before updating the positive shapes.
func (t *Trainer) seal(cur Cursor, pos *dataset.DataSet) (Cursor, error) {
	var (
		m     = t.Model
		b     = m.Partial
		next  = Cursor{Stage: cur.Stage + 1, Unit: -1}
		start = time.Now()
	)
	b.TrainGlobal(pos.Samples, t.Params.Lambda, t.Params.Sweeps)
	m.Stages = append(m.Stages, b)
	m.Partial = cart.NewBoostCart()

	if err := t.checkpoint(next); err != nil {
		b.Global = nil
		m.Partial = b
		m.Stages = m.Stages[:len(m.Stages)-1]
		return cur, err
	}

	for _, s := range pos.Samples {
		b.Regress(s.Current, s.Leaves)
	}
	pos.ClearLeaves()

	t.log().WithFields(logrus.Fields{
		"stage":     cur.Stage,
		"pos":       pos.Size(),
		"threshold": b.Threshold(),
		"error":     pos.MeanError(),
		"elapsed":   utils.FormatTime(time.Since(start)),
	}).Info("stage sealed")
	return next, nil
}

// align mines the negative pool against the model at cur and records the cursor.
func (t *Trainer) align(ctx context.Context, cur Cursor, pos, neg *dataset.DataSet) error {
	t.aligned = nil
	if err := t.mine(ctx, t.Model, cur, pos.Size(), neg); err != nil {
		return err
	}
	t.aligned = &cur
	return nil
}

// checkpoint serializes the model at cur and hands it to the sink.
func (t *Trainer) checkpoint(cur Cursor) error {
	if t.Sink == nil {
		t.Metrics.ObserveCursor(cur.Stage, cur.Unit)
		return nil
	}
	var buf bytes.Buffer
	if err := Serialize(&buf, t.Model, cur); err != nil {
		return errors.Wrapf(err, "checkpoint at %v", cur)
	}
	if err := t.Sink.Persist(cur, buf.Bytes()); err != nil {
		return errors.Wrapf(err, "checkpoint at %v", cur)
	}
	t.Metrics.ObserveCursor(cur.Stage, cur.Unit)
	t.Metrics.ObserveCheckpoint()
	t.log().WithFields(logrus.Fields{
		"stage": cur.Stage,
		"cart":  cur.Unit,
		"bytes": buf.Len(),
	}).Debug("checkpoint written")
	return nil
}

// rand returns the random source of the training step at cur. Seeding every step
// on its own makes a resumed training draw the same features and windows as an
// uninterrupted one.
func (t *Trainer) rand(cur Cursor, salt uint64) *rand.Rand {
	h := uint64(t.Params.Seed)
	for _, v := range []uint64{uint64(cur.Stage), uint64(cur.Unit + 1), salt} {
		h ^= v + 0x9e3779b97f4a7c15 + h<<6 + h>>2
	}
	return rand.New(rand.NewSource(int64(h)))
}
