// Package cart implements the weak stage units of the joint cascade.
//
// A Cart is a binary decision tree over shape indexed pixel difference features.
// Every leaf stores a classification score and a shape increment, so a single
// traversal both votes for face/non-face and refines the landmark estimate.
// A BoostCart groups the carts of one stage with the global shape regression
// trained once all of them are done.
package cart

import (
	"math"
	"math/rand"

	"github.com/esimov/jda/dataset"
	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

const (
	// MaxDepth bounds the tree depth accepted by the decoder.
	MaxDepth = 16
	// valueRange is the number of distinct pixel difference values.
	valueRange = 511
	// scoreEps smooths the leaf scores of empty or pure leaves.
	scoreEps = 1e-4
)

// Params tunes the training of a single cart.
type Params struct {
	// FeatureCount is the number of random candidate features tried at every node.
	FeatureCount int
	// Radius bounds the feature offsets around their landmark, in window units.
	Radius float64
	// ClassProb is the probability of a node being split on classification gain
	// rather than on the shape regression gain.
	ClassProb float64
	// Shrinkage scales the leaf shape increments.
	Shrinkage float64
}

// Cart is a single boosted tree. The internal nodes are stored in heap order:
// the children of node i are 2i+1 and 2i+2.
type Cart struct {
	Depth     int
	Landmarks int
	Features  []Feature
	Splits    []int
	Scores    []float64
	Deltas    []shape.Shape
	// Threshold is the cumulative cascade score below which a window is
	// rejected once this cart has been evaluated.
	Threshold float64
}

// New allocates an untrained cart of the given depth.
func New(depth, landmarks int) *Cart {
	nodes := 1<<depth - 1
	leaves := 1 << depth
	c := &Cart{
		Depth:     depth,
		Landmarks: landmarks,
		Features:  make([]Feature, nodes),
		Splits:    make([]int, nodes),
		Scores:    make([]float64, leaves),
		Deltas:    make([]shape.Shape, leaves),
	}
	for i := range c.Deltas {
		c.Deltas[i] = shape.New(landmarks)
	}
	return c
}

// Leaf returns the index of the leaf reached by the patch under the shape estimate s.
func (c *Cart) Leaf(p *imgproc.Patch, s shape.Shape) int {
	node := 0
	for d := 0; d < c.Depth; d++ {
		if c.Features[node].Value(p, s) <= c.Splits[node] {
			node = 2*node + 1
		} else {
			node = 2*node + 2
		}
	}
	return node - len(c.Features)
}

// Eval runs the patch through the cart. It returns the score contribution and the
// reached leaf, and adds the leaf shape increment to s in place.
func (c *Cart) Eval(p *imgproc.Patch, s shape.Shape) (float64, int) {
	leaf := c.Leaf(p, s)
	s.Add(c.Deltas[leaf])
	return c.Scores[leaf], leaf
}

// Train grows the tree on the weighted positive and negative samples. The positive
// samples must hold their current shape estimate and their ground truth.
func (c *Cart) Train(rng *rand.Rand, pos, neg []*dataset.Sample, p Params) {
	nodes := make([]node, len(c.Features))
	nodes[0] = node{pos: pos, neg: neg}

	for i := range nodes {
		n := nodes[i]
		c.Features[i], c.Splits[i] = c.split(rng, n, p)

		if left, right := 2*i+1, 2*i+2; left < len(nodes) {
			nodes[left], nodes[right] = n.partition(&c.Features[i], c.Splits[i])
		} else {
			l, r := n.partition(&c.Features[i], c.Splits[i])
			c.fitLeaf(left-len(nodes), l, p)
			c.fitLeaf(right-len(nodes), r, p)
		}
	}
}

// fitLeaf sets the leaf score from the boosting weights and the leaf shape
// increment from the mean residual of the positives reaching it.
func (c *Cart) fitLeaf(leaf int, n node, p Params) {
	var wp, wn float64
	for _, s := range n.pos {
		wp += s.Weight
	}
	for _, s := range n.neg {
		wn += s.Weight
	}
	c.Scores[leaf] = 0.5 * math.Log((wp+scoreEps)/(wn+scoreEps))

	delta := shape.New(c.Landmarks)
	if len(n.pos) > 0 {
		for _, s := range n.pos {
			delta.Add(s.Residual())
		}
		delta.Scale(p.Shrinkage / float64(len(n.pos)))
	}
	c.Deltas[leaf] = delta
}

// split picks the best of p.FeatureCount random features for the node samples.
func (c *Cart) split(rng *rand.Rand, n node, p Params) (Feature, int) {
	classify := rng.Float64() < p.ClassProb
	if len(n.pos) == 0 {
		classify = true
	} else if len(n.neg) == 0 {
		classify = false
	}
	landmark := rng.Intn(c.Landmarks)

	best := randomFeature(rng, c.Landmarks, p.Radius)
	bestSplit, bestCost := 0, math.Inf(1)
	if len(n.pos)+len(n.neg) < 2 {
		return best, bestSplit
	}

	for f := 0; f < p.FeatureCount; f++ {
		feat := randomFeature(rng, c.Landmarks, p.Radius)
		var split int
		var cost float64
		if classify {
			split, cost = classificationSplit(&feat, n)
		} else {
			split, cost = regressionSplit(&feat, n, landmark)
		}
		if cost < bestCost {
			best, bestSplit, bestCost = feat, split, cost
		}
	}
	return best, bestSplit
}

// node is the set of samples reaching a tree node while training.
type node struct {
	pos, neg []*dataset.Sample
}

func (n node) partition(f *Feature, split int) (node, node) {
	var l, r node
	for _, s := range n.pos {
		if f.Value(s.Patch, s.Current) <= split {
			l.pos = append(l.pos, s)
		} else {
			r.pos = append(r.pos, s)
		}
	}
	for _, s := range n.neg {
		if f.Value(s.Patch, s.Current) <= split {
			l.neg = append(l.neg, s)
		} else {
			r.neg = append(r.neg, s)
		}
	}
	return l, r
}

// classificationSplit scans every threshold of the feature and returns the one
// minimizing the weighted Gini impurity of the two children.
func classificationSplit(f *Feature, n node) (int, float64) {
	var hp, hn [valueRange]float64
	var wp, wn float64
	for _, s := range n.pos {
		hp[f.Value(s.Patch, s.Current)+255] += s.Weight
		wp += s.Weight
	}
	for _, s := range n.neg {
		hn[f.Value(s.Patch, s.Current)+255] += s.Weight
		wn += s.Weight
	}

	impurity := func(p, n float64) float64 {
		if p+n <= 0 {
			return 0
		}
		return p * n / (p + n)
	}
	var lp, ln float64
	bestSplit, bestCost := 0, math.Inf(1)
	for v := 0; v < valueRange-1; v++ {
		lp += hp[v]
		ln += hn[v]
		cost := impurity(lp, ln) + impurity(wp-lp, wn-ln)
		if cost < bestCost {
			bestSplit, bestCost = v-255, cost
		}
	}
	return bestSplit, bestCost
}

// regressionSplit returns the threshold minimizing the squared residual error
// of the landmark over the positive samples.
func regressionSplit(f *Feature, n node, landmark int) (int, float64) {
	var cnt [valueRange]float64
	var sx, sy [valueRange]float64
	var total, tx, ty, sq float64
	for _, s := range n.pos {
		v := f.Value(s.Patch, s.Current) + 255
		rx := s.Truth[landmark].X - s.Current[landmark].X
		ry := s.Truth[landmark].Y - s.Current[landmark].Y
		cnt[v]++
		sx[v] += rx
		sy[v] += ry
		total++
		tx += rx
		ty += ry
		sq += rx*rx + ry*ry
	}

	var lc, lx, ly float64
	bestSplit, bestCost := 0, math.Inf(1)
	for v := 0; v < valueRange-1; v++ {
		lc += cnt[v]
		lx += sx[v]
		ly += sy[v]
		// The sum of squares is constant, so minimizing the error maximizes
		// the explained part |sum|^2/n of both children.
		var gain float64
		if lc > 0 {
			gain += (lx*lx + ly*ly) / lc
		}
		if rc := total - lc; rc > 0 {
			rx, ry := tx-lx, ty-ly
			gain += (rx*rx + ry*ry) / rc
		}
		if cost := sq - gain; cost < bestCost {
			bestSplit, bestCost = v-255, cost
		}
	}
	return bestSplit, bestCost
}
