package jda

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/esimov/jda/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_RoundTrip(t *testing.T) {
	assert := assert.New(t)
	m := handModel(t)

	data := serialize(t, m, m.Config.Final())
	got, cur, err := Deserialize(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(m.Config.Final(), cur)
	assert.Equal(m.Config, got.Config)
	assert.Equal(m.MeanShape, got.MeanShape)
	assert.Equal(m.Stages, got.Stages)
	assert.Equal(data, serialize(t, got, cur))
}

func TestSerialize_PartialStage(t *testing.T) {
	assert := assert.New(t)
	m := handModel(t)
	m.Partial.Carts = []*cart.Cart{m.Stages[2].Carts[0]}
	m.Stages = m.Stages[:2]
	cur := Cursor{Stage: 2, Unit: 0}

	got, gotCur, err := Deserialize(bytes.NewReader(serialize(t, m, cur)))
	require.NoError(t, err)
	assert.Equal(cur, gotCur)
	assert.Len(got.Stages, 2)
	assert.Equal(m.Partial.Carts, got.Partial.Carts)

	var buf bytes.Buffer
	assert.ErrorIs(Serialize(&buf, m, Cursor{Stage: 2, Unit: 1}), ErrCursor)
}

func TestSerialize_ModelWithoutPartial(t *testing.T) {
	assert := assert.New(t)
	ref := handModel(t)
	m := &Model{Config: ref.Config, MeanShape: ref.MeanShape, Stages: ref.Stages}

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, m, m.Config.Final()))
	assert.Equal(serialize(t, ref, ref.Config.Final()), buf.Bytes())

	m.Stages = m.Stages[:2]
	cur := Cursor{Stage: 2, Unit: -1}
	buf.Reset()
	require.NoError(t, Serialize(&buf, m, cur))
	_, got, err := Deserialize(&buf)
	require.NoError(t, err)
	assert.Equal(cur, got)
	assert.ErrorIs(Serialize(&buf, m, Cursor{Stage: 2, Unit: 0}), ErrCursor)
}

func TestSerialize_RequiresMeanShape(t *testing.T) {
	m, err := NewModel(Config{Stages: 1, Carts: 1, Landmarks: 2, Depth: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, Serialize(&buf, m, Start), ErrIncomplete)
}

func TestDeserialize_Malformed(t *testing.T) {
	m := handModel(t)
	data := serialize(t, m, m.Config.Final())

	patch := func(offset int, v int32) []byte {
		out := append([]byte(nil), data...)
		binary.LittleEndian.PutUint32(out[offset:], uint32(v))
		return out
	}
	// Header: 4 int32, mean shape: 1 landmark, cursor: 2 int32, then the first
	// stage record starts with its cart count and the depth of its first cart.
	const stageOffset = 16 + 16 + 8

	cases := map[string][]byte{
		"empty":             nil,
		"truncated header":  data[:10],
		"truncated stage":   data[:len(data)-5],
		"trailing data":     append(append([]byte(nil), data...), 0),
		"zero stages":       patch(0, 0),
		"depth too large":   patch(12, cart.MaxDepth+1),
		"cursor too far":    patch(32, 4),
		"unit out of range": patch(36, 0),
		"cart count":        patch(stageOffset, 3),
		"cart depth":        patch(stageOffset+4, 2),
		"cart landmarks":    patch(stageOffset+8, 2),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Deserialize(bytes.NewReader(in))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	_, _, err := Deserialize(bytes.NewReader(data[:len(data)-5]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDeserialize_OversizedHeader(t *testing.T) {
	const landmarks, depth = 1024, 12

	var buf bytes.Buffer
	e := cart.NewEncoder(&buf)
	e.Int32(1)
	e.Int32(1)
	e.Int32(landmarks)
	e.Int32(depth)
	for i := 0; i < 2*landmarks; i++ {
		e.Float64(0)
	}
	e.Int32(0)
	e.Int32(0)
	// The only cart claims a 4095 node tree and the stream ends right after.
	e.Int32(depth)
	e.Int32(landmarks)
	require.NoError(t, e.Err())

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, _, err := Deserialize(bytes.NewReader(buf.Bytes()))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrFormat)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20),
		"a truncated record must not allocate the tree its header declares")
}

func TestCheckpoint_FileSink(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "models")

	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	stamp := time.Date(2015, 10, 11, 10, 36, 25, 0, time.UTC)
	sink.now = func() time.Time { return stamp }

	m := handModel(t)
	data := serialize(t, m, m.Config.Final())
	require.NoError(t, sink.Persist(Cursor{Stage: 2, Unit: 1}, []byte("older")))
	require.NoError(t, sink.Persist(m.Config.Final(), data))
	require.NoError(t, sink.Persist(Cursor{Stage: 2, Unit: 1}, []byte("same cursor, new file")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3, "checkpoints are never overwritten and no temporary file is left")
	for _, e := range entries {
		assert.Regexp(`^jda_tmp_20151011-103625_stage_\d+_cart_\d+_[0-9a-f-]+\.model$`, e.Name())
	}

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Contains(filepath.Base(latest), "_stage_4_cart_0_")

	got, cur, err := OpenCheckpoint(latest)
	require.NoError(t, err)
	assert.Equal(m.Config.Final(), cur)
	assert.Equal(m.Stages, got.Stages)
}

func TestCheckpoint_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	_, _, err := OpenCheckpoint(filepath.Join(dir, "absent.model"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrFormat)

	_, err = LatestCheckpoint(dir)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	_, err = LatestCheckpoint(filepath.Join(dir, "absent"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	corrupt := filepath.Join(dir, "corrupt.model")
	require.NoError(t, os.WriteFile(corrupt, []byte{1, 0, 0}, 0644))
	_, _, err = OpenCheckpoint(corrupt)
	assert.ErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrNoCheckpoint)
}
