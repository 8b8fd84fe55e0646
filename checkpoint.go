package jda

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CheckpointSink persists the serialized model after every trained unit and
// every sealed stage.
type CheckpointSink interface {
	Persist(cur Cursor, record []byte) error
}

const checkpointTimeLayout = "20060102-150405"

var checkpointName = regexp.MustCompile(`^jda_tmp_(\d{8}-\d{6})_stage_(\d+)_cart_(\d+)_[0-9a-f-]+\.model$`)

// FileSink writes every checkpoint into its own file of a directory. Files are
// never overwritten: the name holds the time, the stage and unit reached and a
// random suffix, e.g. jda_tmp_20151011-103625_stage_3_cart_100_<uuid>.model.
type FileSink struct {
	Dir string
	now func() time.Time
}

// NewFileSink creates the checkpoint directory when needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating checkpoint directory %s", dir)
	}
	return &FileSink{Dir: dir, now: time.Now}, nil
}

// Persist writes the record to a temporary file and renames it once complete,
// so an interrupted write never leaves a truncated checkpoint behind.
func (f *FileSink) Persist(cur Cursor, record []byte) error {
	name := fmt.Sprintf("jda_tmp_%s_stage_%d_cart_%d_%s.model",
		f.now().Format(checkpointTimeLayout), cur.Stage+1, cur.Unit+1, uuid.New())

	tmp, err := os.CreateTemp(f.Dir, ".jda-*.part")
	if err != nil {
		return errors.Wrap(err, "creating checkpoint")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), filepath.Join(f.Dir, name)), "renaming checkpoint")
}

// OpenCheckpoint loads a checkpoint file. A missing file is reported as
// ErrNoCheckpoint, so callers can start from scratch, while an existing but
// corrupt one is reported as ErrFormat.
func OpenCheckpoint(path string) (*Model, Cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Start, fmt.Errorf("%w: %w", ErrNoCheckpoint, err)
		}
		return nil, Start, errors.Wrapf(err, "reading checkpoint %s", path)
	}
	m, cur, err := Deserialize(bytes.NewReader(data))
	if err != nil {
		return nil, Start, errors.Wrapf(err, "checkpoint %s", filepath.Base(path))
	}
	return m, cur, nil
}

// LatestCheckpoint returns the path of the most advanced checkpoint of a
// directory, ordered by save time first and training progress second.
func LatestCheckpoint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %w", ErrNoCheckpoint, err)
		}
		return "", errors.Wrapf(err, "listing checkpoints in %s", dir)
	}

	type candidate struct {
		name         string
		stamp        string
		stage, units int
	}
	var found []candidate
	for _, e := range entries {
		match := checkpointName.FindStringSubmatch(e.Name())
		if e.IsDir() || match == nil {
			continue
		}
		stage, _ := strconv.Atoi(match[2])
		units, _ := strconv.Atoi(match[3])
		found = append(found, candidate{e.Name(), match[1], stage, units})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w: no checkpoint in %s", ErrNoCheckpoint, dir)
	}
	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.stamp != b.stamp {
			return a.stamp < b.stamp
		}
		if a.stage != b.stage {
			return a.stage < b.stage
		}
		if a.units != b.units {
			return a.units < b.units
		}
		return a.name < b.name
	})
	return filepath.Join(dir, found[len(found)-1].name), nil
}
