package jda

import (
	"bufio"
	"fmt"
	"io"

	"github.com/esimov/jda/cart"
	"github.com/pkg/errors"
)

// Serialize writes the model and its training cursor to w. The stream holds, in
// order: the configuration (stages, carts, landmarks, depth), the mean shape, the
// cursor, one record per sealed stage and the Unit+1 trained units of the
// current stage. All values are little endian int32 or float64.
func Serialize(w io.Writer, m *Model, cur Cursor) error {
	if err := m.check(cur); err != nil {
		return err
	}
	if len(m.MeanShape) != m.Config.Landmarks {
		return errors.Wrap(ErrIncomplete, "mean shape is not computed")
	}
	bw := bufio.NewWriter(w)
	e := cart.NewEncoder(bw)

	cfg := m.Config
	e.Int32(cfg.Stages)
	e.Int32(cfg.Carts)
	e.Int32(cfg.Landmarks)
	e.Int32(cfg.Depth)
	e.Shape(m.MeanShape)
	e.Int32(cur.Stage)
	e.Int32(cur.Unit)
	for _, b := range m.Stages {
		b.Encode(e)
	}
	if cur.Unit >= 0 {
		for _, c := range m.Partial.Carts[:cur.Unit+1] {
			c.Encode(e)
		}
	}
	if err := e.Err(); err != nil {
		return errors.Wrap(err, "encoding model")
	}
	return errors.Wrap(bw.Flush(), "encoding model")
}

// Deserialize reads a model written by Serialize. Truncated streams, values out
// of range and records contradicting the header are reported as ErrFormat.
func Deserialize(r io.Reader) (*Model, Cursor, error) {
	br := bufio.NewReader(r)
	d := cart.NewDecoder(br)

	cfg := Config{
		Stages:    d.Int32(),
		Carts:     d.Int32(),
		Landmarks: d.Int32(),
		Depth:     d.Int32(),
	}
	if err := d.Err(); err != nil {
		return nil, Start, formatError(err, "reading header")
	}
	if err := cfg.Validate(); err != nil {
		return nil, Start, formatError(err, "invalid header")
	}

	m, _ := NewModel(cfg)
	m.MeanShape = d.Shape(cfg.Landmarks)
	cur := Cursor{Stage: d.Int32(), Unit: d.Int32()}
	if err := d.Err(); err != nil {
		return nil, Start, formatError(err, "reading mean shape")
	}
	if cur.Stage < 0 || cur.Stage > cfg.Stages || cur.Unit < -1 || cur.Unit >= cfg.Carts ||
		(cur.Stage == cfg.Stages && cur.Unit != -1) {
		return nil, Start, formatError(fmt.Errorf("cursor %v out of range", cur), "reading cursor")
	}

	for s := 0; s < cur.Stage; s++ {
		b := cart.DecodeBoostCart(d, cfg.Carts, cfg.Depth, cfg.Landmarks)
		if b == nil {
			return nil, Start, formatError(d.Err(), fmt.Sprintf("reading stage %d", s))
		}
		m.Stages = append(m.Stages, b)
	}
	for u := 0; u <= cur.Unit; u++ {
		c := cart.DecodeCart(d, cfg.Depth, cfg.Landmarks)
		if c == nil {
			return nil, Start, formatError(d.Err(), fmt.Sprintf("reading unit %d of stage %d", u, cur.Stage))
		}
		m.Partial.Carts = append(m.Partial.Carts, c)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, Start, formatError(fmt.Errorf("trailing data after cursor %v", cur), "reading model")
	}
	return m, cur, nil
}

// formatError marks err as a malformed model while keeping it inspectable with errors.Is.
func formatError(err error, msg string) error {
	return fmt.Errorf("%w: %s: %w", ErrFormat, msg, err)
}
