package jda

import (
	"context"
	"math"
	"time"

	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/utils"
	"github.com/sirupsen/logrus"
)

// mine aligns the negative pool with the partial cascade at cur, given the
// number of positives left at that point of the training. The pool is
// re-evaluated in parallel and every sample the cascade now rejects is dropped.
// The pool is then refilled up to its target size with background windows the
// cascade fails to reject. Candidates are evaluated in parallel but admitted in
// order by the calling goroutine, so the pool content only depends on the seed.
func (t *Trainer) mine(ctx context.Context, m *Model, cur Cursor, positives int, neg *dataset.DataSet) error {
	start := time.Now()
	target := int(math.Ceil(t.Params.NegRatio * float64(positives)))

	results, err := m.evalAll(ctx, cur, neg.Samples, t.Params.Workers)
	if err != nil {
		return err
	}
	for i, s := range neg.Samples {
		s.Score, s.Current, s.Leaves = results[i].Score, results[i].Shape, results[i].leaves
	}
	// Prune visits the samples in order.
	i := 0
	rejected := neg.Prune(func(*dataset.Sample) bool {
		ok := results[i].Accepted
		i++
		return ok
	})
	neg.Truncate(target)

	var admitted, drawn, rounds int
	if gen := neg.Generator; gen != nil {
		rng := t.rand(cur, 1)
		for ; neg.Size() < target && rounds < t.Params.MiningRounds; rounds++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			candidates := gen.Windows(rng, t.Params.MiningBatch)
			if len(candidates) == 0 {
				break
			}
			drawn += len(candidates)

			results, err := m.evalAll(ctx, cur, candidates, t.Params.Workers)
			if err != nil {
				return err
			}
			for i, s := range candidates {
				if !results[i].Accepted || neg.Size() >= target {
					continue
				}
				s.Score, s.Current, s.Leaves = results[i].Score, results[i].Shape, results[i].leaves
				neg.Add(s)
				admitted++
			}
		}
	}
	t.Metrics.ObserveMined(admitted)
	t.Metrics.ObservePool(positives, neg.Size())

	fields := logrus.Fields{
		"stage":    cur.Stage,
		"cart":     cur.Unit,
		"neg":      neg.Size(),
		"target":   target,
		"rejected": rejected,
		"admitted": admitted,
		"drawn":    drawn,
		"elapsed":  utils.FormatTime(time.Since(start)),
	}
	if neg.Size() < target {
		t.log().WithFields(fields).Warn("negative pool below target")
	} else {
		t.log().WithFields(fields).Info("negatives mined")
	}
	if drawn > 0 {
		t.log().WithField("fp_rate", float64(admitted)/float64(drawn)).Debug("mining acceptance rate")
	}
	return nil
}

type evalResult struct {
	Result
	leaves []int
}

// evalAll runs every sample through the partial cascade at cur on a worker pool.
func (m *Model) evalAll(ctx context.Context, cur Cursor, samples []*dataset.Sample, workers int) ([]evalResult, error) {
	results := make([]evalResult, len(samples))
	err := parallel(ctx, len(samples), workers, func(i int) {
		results[i].Result, results[i].leaves = m.eval(samples[i].Patch, cur, nil)
	})
	return results, err
}
