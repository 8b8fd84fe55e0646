// Package shape holds facial landmark point sets. Coordinates inside the cascade
// are normalized to the detection window: (0, 0) is the top-left corner of the
// window and (1, 1) its bottom-right corner.
package shape

import (
	"errors"
	"image"
	"math"
)

// Point is a single landmark location.
type Point struct {
	X, Y float64
}

// Shape is an ordered set of landmarks.
type Shape []Point

// New returns a shape of n landmarks placed at the origin.
func New(n int) Shape {
	return make(Shape, n)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

// Add adds d to s in place and returns s.
func (s Shape) Add(d Shape) Shape {
	for i := range s {
		s[i].X += d[i].X
		s[i].Y += d[i].Y
	}
	return s
}

// AddScaled adds f*d to s in place and returns s.
func (s Shape) AddScaled(d Shape, f float64) Shape {
	for i := range s {
		s[i].X += f * d[i].X
		s[i].Y += f * d[i].Y
	}
	return s
}

// Sub returns the residual s - o as a new shape.
func (s Shape) Sub(o Shape) Shape {
	r := make(Shape, len(s))
	for i := range s {
		r[i] = Point{s[i].X - o[i].X, s[i].Y - o[i].Y}
	}
	return r
}

// Scale multiplies every coordinate by f in place and returns s.
func (s Shape) Scale(f float64) Shape {
	for i := range s {
		s[i].X *= f
		s[i].Y *= f
	}
	return s
}

// Equal reports whether both shapes hold exactly the same coordinates.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Error returns the mean euclidean distance between the two shapes.
func (s Shape) Error(o Shape) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for i := range s {
		sum += math.Hypot(s[i].X-o[i].X, s[i].Y-o[i].Y)
	}
	return sum / float64(len(s))
}

// ToRect maps a normalized shape into the pixel space of rect.
func (s Shape) ToRect(r image.Rectangle) Shape {
	w, h := float64(r.Dx()), float64(r.Dy())
	out := make(Shape, len(s))
	for i, p := range s {
		out[i] = Point{float64(r.Min.X) + p.X*w, float64(r.Min.Y) + p.Y*h}
	}
	return out
}

// FromRect maps a shape given in pixel coordinates into the normalized space of rect.
func (s Shape) FromRect(r image.Rectangle) Shape {
	w, h := float64(r.Dx()), float64(r.Dy())
	out := make(Shape, len(s))
	for i, p := range s {
		out[i] = Point{(p.X - float64(r.Min.X)) / w, (p.Y - float64(r.Min.Y)) / h}
	}
	return out
}

// Mean computes the average landmark layout of the provided shapes.
func Mean(shapes []Shape) (Shape, error) {
	if len(shapes) == 0 {
		return nil, errors.New("cannot compute the mean of zero shapes")
	}
	n := len(shapes[0])
	mean := New(n)
	for _, s := range shapes {
		if len(s) != n {
			return nil, errors.New("shapes have different number of landmarks")
		}
		mean.Add(s)
	}
	return mean.Scale(1 / float64(len(shapes))), nil
}
