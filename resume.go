package jda

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/dataset"
	"github.com/sirupsen/logrus"
)

// Resume loads a checkpoint written during training and restores the training
// state it describes, returning the cursor to continue Train from.
//
// The checkpoint must have been trained with the configuration of the trainer's
// model, otherwise ErrConfigMismatch is returned. The positive samples are replayed
// through every persisted unit, picking up the shape refinements and dropping the
// faces the training dropped. The negative pool is rebuilt by repeating the mining
// done at every cursor up to the checkpoint, each time against the partial cascade
// of that cursor and with its random source, so the pool ends up as an
// uninterrupted training left it. The model is only replaced once all of this
// succeeded.
func (t *Trainer) Resume(ctx context.Context, r io.Reader, pos, neg *dataset.DataSet) (Cursor, error) {
	loaded, cur, err := Deserialize(r)
	if err != nil {
		return Start, err
	}
	if loaded.Config != t.Model.Config {
		return Start, fmt.Errorf("%w: checkpoint %+v, model %+v", ErrConfigMismatch, loaded.Config, t.Model.Config)
	}
	if err := t.Params.Validate(); err != nil {
		return Start, err
	}

	total := pos.Size()
	dropped, err := loaded.replay(ctx, cur, pos, t.Params.Workers)
	if err != nil {
		return Start, err
	}
	t.aligned = nil
	if err := t.remine(ctx, loaded, cur, total, dropped, neg); err != nil {
		return Start, err
	}
	*t.Model = *loaded
	t.aligned = &cur
	t.Metrics.ObserveCursor(cur.Stage, cur.Unit)

	t.log().WithFields(logrus.Fields{
		"stage": cur.Stage,
		"cart":  cur.Unit,
		"pos":   pos.Size(),
		"neg":   neg.Size(),
		"error": pos.MeanError(),
	}).Info("training resumed")
	return cur, nil
}

// remine repeats the hard negative mining training performed at every cursor up
// to cur. total is the number of positives before any unit and dropped holds, in
// ascending order, the units which rejected the removed ones.
func (t *Trainer) remine(ctx context.Context, m *Model, cur Cursor, total int, dropped []int, neg *dataset.DataSet) error {
	k := m.Config.Carts
	final := m.Config.Final()
	for c := Start; c != final && !cur.Before(c); c = c.next(k) {
		unit := c.Stage*k + c.Unit
		positives := total - sort.SearchInts(dropped, unit+1)
		if err := t.mine(ctx, m.at(c), c, positives, neg); err != nil {
			return err
		}
	}
	return nil
}

// at returns the model as training left it at c, sharing the units of m.
func (m *Model) at(c Cursor) *Model {
	v := &Model{
		Config:    m.Config,
		MeanShape: m.MeanShape,
		Stages:    m.Stages[:c.Stage],
		Partial:   cart.NewBoostCart(),
	}
	if c.Unit >= 0 {
		src := m.Partial
		if c.Stage < len(m.Stages) {
			src = m.Stages[c.Stage]
		}
		v.Partial.Carts = src.Carts[:c.Unit+1]
	}
	return v
}

// replay puts the positive samples into the state training leaves them in at cur.
// It returns the sorted indexes of the units which dropped the removed samples.
func (m *Model) replay(ctx context.Context, cur Cursor, pos *dataset.DataSet, workers int) ([]int, error) {
	pos.Reset(m.MeanShape)
	drops := make([]int, pos.Size())
	err := parallel(ctx, pos.Size(), workers, func(i int) {
		drops[i] = m.trace(pos.Samples[i], cur)
	})
	if err != nil {
		return nil, err
	}
	var dropped []int
	// Prune visits the samples in order.
	i := 0
	pos.Prune(func(*dataset.Sample) bool {
		d := drops[i]
		i++
		if d >= 0 {
			dropped = append(dropped, d)
			return false
		}
		return true
	})
	sort.Ints(dropped)
	return dropped, nil
}

// trace runs a positive sample through the units trained up to cur exactly the
// way training applied them: unit after unit, dropping the sample as soon as its
// score falls below the threshold of a unit, and applying the global shape
// regression of every sealed stage. It returns the global index of the unit
// which dropped the sample, or -1 when the sample survived.
func (m *Model) trace(s *dataset.Sample, cur Cursor) int {
	unit := 0
	step := func(units []*cart.Cart) bool {
		for _, c := range units {
			sc, leaf := c.Eval(s.Patch, s.Current)
			s.Score += sc
			s.Leaves = append(s.Leaves, leaf)
			if s.Score < c.Threshold {
				return false
			}
			unit++
		}
		return true
	}
	for _, b := range m.Stages[:cur.Stage] {
		if !step(b.Carts) {
			return unit
		}
		b.Regress(s.Current, s.Leaves)
		s.Leaves = s.Leaves[:0]
	}
	if cur.Unit >= 0 && !step(m.Partial.Carts[:cur.Unit+1]) {
		return unit
	}
	return -1
}
