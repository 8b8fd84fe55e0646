package cart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/esimov/jda/imgproc"
	"github.com/esimov/jda/shape"
)

// ErrRecord is returned when a cart record is truncated or contradicts
// the depth and landmark count it is decoded with.
var ErrRecord = errors.New("malformed cart record")

// Encoder writes little endian values and remembers the first error.
type Encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered while writing.
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) write(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

// Int32 writes a signed 32 bit integer.
func (e *Encoder) Int32(v int) {
	binary.LittleEndian.PutUint32(e.buf[:4], uint32(int32(v)))
	e.write(e.buf[:4])
}

// Float64 writes an IEEE 754 double.
func (e *Encoder) Float64(v float64) {
	binary.LittleEndian.PutUint64(e.buf[:8], math.Float64bits(v))
	e.write(e.buf[:8])
}

// Shape writes the coordinates of every landmark.
func (e *Encoder) Shape(s shape.Shape) {
	for _, p := range s {
		e.Float64(p.X)
		e.Float64(p.Y)
	}
}

// Decoder reads little endian values and remembers the first error.
type Decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Err returns the first error encountered while reading.
// A stream ending before a value is complete is reported as io.ErrUnexpectedEOF.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) read(b []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return false
	}
	return true
}

// Int32 reads a signed 32 bit integer.
func (d *Decoder) Int32() int {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(d.buf[:4])))
}

// Float64 reads an IEEE 754 double.
func (d *Decoder) Float64() float64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(d.buf[:8]))
}

// Shape reads n landmarks.
func (d *Decoder) Shape(n int) shape.Shape {
	if d.err != nil {
		return nil
	}
	s := shape.New(n)
	for i := range s {
		s[i].X = d.Float64()
		s[i].Y = d.Float64()
	}
	return s
}

// Fail records err unless an earlier error is already pending.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Encode writes the cart record: its declared depth and landmark count, the
// internal nodes, the leaves and the rejection threshold.
func (c *Cart) Encode(e *Encoder) {
	e.Int32(c.Depth)
	e.Int32(c.Landmarks)
	for i := range c.Features {
		f := &c.Features[i]
		e.Int32(f.Level)
		e.Int32(f.Landmark1)
		e.Int32(f.Landmark2)
		e.Float64(f.Dx1)
		e.Float64(f.Dy1)
		e.Float64(f.Dx2)
		e.Float64(f.Dy2)
		e.Int32(c.Splits[i])
	}
	for l := range c.Scores {
		e.Float64(c.Scores[l])
		e.Shape(c.Deltas[l])
	}
	e.Float64(c.Threshold)
}

// DecodeCart reads a cart record and checks it against the expected depth and landmark count.
func DecodeCart(d *Decoder, depth, landmarks int) *Cart {
	gotDepth, gotLandmarks := d.Int32(), d.Int32()
	if d.Err() != nil {
		return nil
	}
	if gotDepth != depth || gotLandmarks != landmarks {
		d.Fail(fmt.Errorf("%w: cart declares depth %d and %d landmarks, expected %d and %d",
			ErrRecord, gotDepth, gotLandmarks, depth, landmarks))
		return nil
	}

	// Slices grow as values are read: a truncated record never allocates the
	// tree its header declares.
	nodes, leaves := 1<<depth-1, 1<<depth
	c := &Cart{Depth: depth, Landmarks: landmarks}
	for i := 0; i < nodes && d.Err() == nil; i++ {
		var f Feature
		f.Level = d.Int32()
		f.Landmark1 = d.Int32()
		f.Landmark2 = d.Int32()
		f.Dx1 = d.Float64()
		f.Dy1 = d.Float64()
		f.Dx2 = d.Float64()
		f.Dy2 = d.Float64()
		split := d.Int32()

		if d.Err() == nil && !f.valid(landmarks) {
			d.Fail(fmt.Errorf("%w: node %d references an invalid level or landmark", ErrRecord, i))
		}
		c.Features = append(c.Features, f)
		c.Splits = append(c.Splits, split)
	}
	for l := 0; l < leaves && d.Err() == nil; l++ {
		c.Scores = append(c.Scores, d.Float64())
		c.Deltas = append(c.Deltas, d.Shape(landmarks))
	}
	c.Threshold = d.Float64()
	if d.Err() != nil {
		return nil
	}
	return c
}

func (f *Feature) valid(landmarks int) bool {
	return f.Level >= 0 && f.Level < imgproc.Levels &&
		f.Landmark1 >= 0 && f.Landmark1 < landmarks &&
		f.Landmark2 >= 0 && f.Landmark2 < landmarks
}

// Encode writes the stage record: the number of carts, every cart and the global regression.
func (b *BoostCart) Encode(e *Encoder) {
	e.Int32(len(b.Carts))
	for _, c := range b.Carts {
		c.Encode(e)
	}
	for k := range b.Carts {
		for _, s := range b.Global[k] {
			e.Shape(s)
		}
	}
}

// DecodeBoostCart reads a sealed stage record holding exactly carts carts.
func DecodeBoostCart(d *Decoder, carts, depth, landmarks int) *BoostCart {
	n := d.Int32()
	if d.Err() != nil {
		return nil
	}
	if n != carts {
		d.Fail(fmt.Errorf("%w: stage declares %d carts, expected %d", ErrRecord, n, carts))
		return nil
	}
	b := NewBoostCart()
	for k := 0; k < carts; k++ {
		c := DecodeCart(d, depth, landmarks)
		if c == nil {
			return nil
		}
		b.Carts = append(b.Carts, c)
	}
	b.Global = make([][]shape.Shape, carts)
	for k := 0; k < carts && d.Err() == nil; k++ {
		for l := 0; l < 1<<depth && d.Err() == nil; l++ {
			b.Global[k] = append(b.Global[k], d.Shape(landmarks))
		}
	}
	if d.Err() != nil {
		return nil
	}
	return b
}
