package jda

import (
	"fmt"

	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

// maxLandmarks bounds the landmark count accepted from a model stream.
const maxLandmarks = 1 << 12

// Cursor marks the training progress of a cascade. Unit counts the trained units
// of the current stage minus one: -1 means none of them is trained yet, while
// Unit == Carts-1 means all of them are and only the global shape regression is
// left before the stage is sealed and the cursor moves to (Stage+1, -1).
type Cursor struct {
	Stage int
	Unit  int
}

// Start is the cursor of an untrained model.
var Start = Cursor{Stage: 0, Unit: -1}

// Final returns the cursor of a completely trained cascade.
func (c Config) Final() Cursor {
	return Cursor{Stage: c.Stages, Unit: -1}
}

// Before reports whether c precedes o in the training order.
func (c Cursor) Before(o Cursor) bool {
	return c.Stage < o.Stage || (c.Stage == o.Stage && c.Unit < o.Unit)
}

// next returns the cursor training reaches after c when stages hold k units.
func (c Cursor) next(k int) Cursor {
	if c.Unit < k-1 {
		return Cursor{Stage: c.Stage, Unit: c.Unit + 1}
	}
	return Cursor{Stage: c.Stage + 1, Unit: -1}
}

func (c Cursor) String() string {
	return fmt.Sprintf("(%d, %d)", c.Stage, c.Unit)
}

// Model is the learned state of a joint cascade: the mean shape every evaluation
// starts from, the sealed stages and the units trained so far for the next one.
// The training progress is not part of the model, it travels as a Cursor.
type Model struct {
	Config    Config
	MeanShape shape.Shape
	Stages    []*cart.BoostCart
	// Partial holds the trained units of the stage under training.
	Partial *cart.BoostCart
}

// NewModel creates an untrained model with the given configuration.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{Config: cfg, Partial: cart.NewBoostCart()}, nil
}

// Complete reports whether every stage of the cascade has been sealed.
func (m *Model) Complete() bool {
	return len(m.Stages) == m.Config.Stages
}

// check verifies that the cursor describes the model: every stage before it is
// sealed and exactly Unit+1 units of the current stage are trained.
func (m *Model) check(cur Cursor) error {
	cfg := m.Config
	switch {
	case cur.Stage < 0 || cur.Stage > cfg.Stages:
		return fmt.Errorf("%w: stage %d outside of [0, %d]", ErrCursor, cur.Stage, cfg.Stages)
	case cur.Unit < -1 || cur.Unit >= cfg.Carts:
		return fmt.Errorf("%w: unit %d outside of [-1, %d]", ErrCursor, cur.Unit, cfg.Carts-1)
	case cur.Stage == cfg.Stages && cur.Unit != -1:
		return fmt.Errorf("%w: complete cascade with unit %d", ErrCursor, cur.Unit)
	case len(m.Stages) != cur.Stage:
		return fmt.Errorf("%w: %d sealed stages at cursor %v", ErrCursor, len(m.Stages), cur)
	case m.partialLen() != cur.Unit+1:
		return fmt.Errorf("%w: %d partial units at cursor %v", ErrCursor, m.partialLen(), cur)
	case cur != Start && len(m.MeanShape) != cfg.Landmarks:
		return fmt.Errorf("%w: mean shape has %d landmarks", ErrCursor, len(m.MeanShape))
	}
	return nil
}

func (m *Model) partialLen() int {
	if m.Partial == nil {
		return 0
	}
	return len(m.Partial.Carts)
}

// Result is the outcome of running a window through the cascade.
type Result struct {
	Accepted bool
	Score    float64
	// Shape is the landmark estimate in normalized window coordinates.
	Shape shape.Shape
	// Units is the global index of the rejecting unit for a rejected window
	// and the number of evaluated units for an accepted one.
	Units int
}

// Validate runs the patch through the cascade prefix selected by the cursor: the
// sealed stages plus the first Unit+1 units of the current stage. With the final
// cursor this is the complete cascade used by the detector.
//
// The score accumulated so far is compared with the stage threshold once all the
// units of a stage ran and its shape regression was applied. A window falling
// below it is rejected and no further unit is evaluated.
func (m *Model) Validate(p *imgproc.Patch, cur Cursor) Result {
	res, _ := m.eval(p, cur, nil)
	return res
}

// eval is Validate returning, in addition, the leaves reached by the units of the
// current stage, appended to leaves.
func (m *Model) eval(p *imgproc.Patch, cur Cursor, leaves []int) (Result, []int) {
	var (
		k     = m.Config.Carts
		s     = m.MeanShape.Clone()
		score float64
		buf   = make([]int, 0, k)
	)
	for st, b := range m.Stages[:cur.Stage] {
		score, buf = b.Eval(p, s, k, score, buf[:0])
		b.Regress(s, buf)
		if score < b.Threshold() {
			return Result{Score: score, Shape: s, Units: st*k + k - 1}, leaves
		}
	}
	if cur.Unit < 0 {
		return Result{Accepted: true, Score: score, Shape: s, Units: cur.Stage * k}, leaves
	}

	score, leaves = m.Partial.Eval(p, s, cur.Unit+1, score, leaves)
	units := cur.Stage*k + cur.Unit
	if score < m.Partial.Carts[cur.Unit].Threshold {
		return Result{Score: score, Shape: s, Units: units}, leaves
	}
	return Result{Accepted: true, Score: score, Shape: s, Units: units + 1}, leaves
}
