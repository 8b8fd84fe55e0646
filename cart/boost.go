package cart

import (
	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

// BoostCart is one stage of the cascade: the boosted carts trained in order,
// followed by the global shape regression over their leaves.
type BoostCart struct {
	Carts []*Cart
	// Global holds, for every cart and leaf, the shape increment learned by the
	// global regression. It stays nil until the stage is sealed.
	Global [][]shape.Shape
}

// NewBoostCart returns an empty stage.
func NewBoostCart() *BoostCart {
	return &BoostCart{}
}

// Sealed reports whether the global regression of the stage has been trained.
func (b *BoostCart) Sealed() bool {
	return b.Global != nil
}

// Threshold returns the rejection threshold of the stage, the one of its last cart.
func (b *BoostCart) Threshold() float64 {
	return b.Carts[len(b.Carts)-1].Threshold
}

// Eval runs the first n carts of the stage, adding their contributions one by
// one to score. The shape s is refined in place and the reached leaves are
// appended to leaves.
func (b *BoostCart) Eval(p *imgproc.Patch, s shape.Shape, n int, score float64, leaves []int) (float64, []int) {
	for _, c := range b.Carts[:n] {
		sc, leaf := c.Eval(p, s)
		score += sc
		leaves = append(leaves, leaf)
	}
	return score, leaves
}

// Regress adds the global regression increment selected by leaves to s.
func (b *BoostCart) Regress(s shape.Shape, leaves []int) {
	if b.Global == nil {
		return
	}
	for k, leaf := range leaves {
		s.Add(b.Global[k][leaf])
	}
}

// TrainGlobal fits the global shape regression of the stage. The local binary
// features of a sample are the leaves it reached in every cart of the stage and
// the regression target is its remaining shape residual. The ridge problem is
// solved by backfitting, one cart at a time, for the given number of sweeps.
func (b *BoostCart) TrainGlobal(pos []*dataset.Sample, lambda float64, sweeps int) {
	if len(b.Carts) == 0 {
		return
	}
	landmarks := b.Carts[0].Landmarks
	global := make([][]shape.Shape, len(b.Carts))
	for k, c := range b.Carts {
		global[k] = make([]shape.Shape, len(c.Scores))
		for l := range global[k] {
			global[k][l] = shape.New(landmarks)
		}
	}

	residuals := make([]shape.Shape, len(pos))
	for i, s := range pos {
		residuals[i] = s.Residual()
	}

	for sweep := 0; sweep < sweeps; sweep++ {
		for k := range b.Carts {
			sums := make([]shape.Shape, len(global[k]))
			counts := make([]float64, len(global[k]))
			for l := range sums {
				sums[l] = shape.New(landmarks)
			}
			for i, s := range pos {
				leaf := s.Leaves[k]
				// Partial residual: add back the current contribution of cart k.
				sums[leaf].Add(residuals[i]).Add(global[k][leaf])
				counts[leaf]++
			}
			for l := range sums {
				if d := counts[l] + lambda; d > 0 {
					sums[l].Scale(1 / d)
				}
			}
			for i, s := range pos {
				leaf := s.Leaves[k]
				residuals[i].Add(global[k][leaf]).AddScaled(sums[leaf], -1)
			}
			global[k] = sums
		}
	}
	b.Global = global
}
