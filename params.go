package jda

import (
	"fmt"
	"runtime"

	"github.com/esimov/jda/cart"
	"github.com/esimov/jda/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
)

// Config is the fixed configuration of a cascade. It is stored in every
// checkpoint and must match when training is resumed.
type Config struct {
	Stages    int `mapstructure:"stages"`
	Carts     int `mapstructure:"carts"`
	Landmarks int `mapstructure:"landmarks"`
	Depth     int `mapstructure:"depth"`
}

// Validate reports every invalid field of the configuration.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Stages < 1 {
		result = multierror.Append(result, fmt.Errorf("stages must be positive, got %d", c.Stages))
	}
	if c.Carts < 1 {
		result = multierror.Append(result, fmt.Errorf("carts must be positive, got %d", c.Carts))
	}
	if c.Landmarks < 1 || c.Landmarks > maxLandmarks {
		result = multierror.Append(result, fmt.Errorf("landmarks must be in [1, %d], got %d", maxLandmarks, c.Landmarks))
	}
	if c.Depth < 1 || c.Depth > cart.MaxDepth {
		result = multierror.Append(result, fmt.Errorf("depth must be in [1, %d], got %d", cart.MaxDepth, c.Depth))
	}
	return result.ErrorOrNil()
}

// TrainParams tunes the training. The per stage slices may be shorter than the
// number of stages, in which case their last value is used for the remaining ones.
type TrainParams struct {
	// PatchSize is the side length of the training windows.
	PatchSize int `mapstructure:"patch_size"`
	// Features is the number of random features evaluated at every tree node.
	Features int `mapstructure:"features"`
	// Radius bounds the feature offsets around their landmark, per stage.
	Radius []float64 `mapstructure:"radius"`
	// ClassProb is the probability of a classification node, per stage.
	ClassProb []float64 `mapstructure:"class_prob"`
	// Recall is the fraction of positives every unit must keep, per stage.
	Recall []float64 `mapstructure:"recall"`
	// Shrinkage scales the leaf shape increments.
	Shrinkage float64 `mapstructure:"shrinkage"`
	// Lambda is the ridge penalty of the global shape regression.
	Lambda float64 `mapstructure:"lambda"`
	// Sweeps is the number of backfitting passes of the global shape regression.
	Sweeps int `mapstructure:"sweeps"`
	// NegRatio sets the negative pool target to NegRatio times the positive count.
	NegRatio float64 `mapstructure:"neg_ratio"`
	// MiningBatch is the number of background windows drawn per mining round.
	MiningBatch int `mapstructure:"mining_batch"`
	// MiningRounds bounds the mining rounds run to refill the negative pool.
	MiningRounds int `mapstructure:"mining_rounds"`
	// Seed makes the training reproducible.
	Seed int64 `mapstructure:"seed"`
	// Workers is the number of goroutines used to evaluate samples.
	Workers int `mapstructure:"workers"`
}

// DefaultTrainParams returns the parameters used when none are provided.
func DefaultTrainParams() TrainParams {
	return TrainParams{
		PatchSize:    80,
		Features:     500,
		Radius:       []float64{0.4, 0.3, 0.2, 0.15, 0.12, 0.1, 0.08},
		ClassProb:    []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3},
		Recall:       []float64{0.999},
		Shrinkage:    0.3,
		Lambda:       1,
		Sweeps:       3,
		NegRatio:     1,
		MiningBatch:  256,
		MiningRounds: 1000,
		Seed:         1,
		Workers:      runtime.NumCPU(),
	}
}

// DecodeTrainParams overrides the defaults with the values of a generic map,
// as produced by decoding a JSON document or collecting command line flags.
func DecodeTrainParams(input map[string]interface{}) (TrainParams, error) {
	p := DefaultTrainParams()
	if err := decode(input, &p); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// Validate reports every invalid field of the training parameters.
func (p TrainParams) Validate() error {
	var result *multierror.Error
	if p.PatchSize < 4 {
		result = multierror.Append(result, fmt.Errorf("patch_size must be at least 4, got %d", p.PatchSize))
	}
	if p.Features < 1 {
		result = multierror.Append(result, fmt.Errorf("features must be positive, got %d", p.Features))
	}
	result = checkStageValues(result, "radius", p.Radius, 0, 1)
	result = checkStageValues(result, "class_prob", p.ClassProb, 0, 1)
	result = checkStageValues(result, "recall", p.Recall, 0, 1)
	if p.Shrinkage <= 0 || p.Shrinkage > 1 {
		result = multierror.Append(result, fmt.Errorf("shrinkage must be in (0, 1], got %v", p.Shrinkage))
	}
	if p.Lambda < 0 {
		result = multierror.Append(result, fmt.Errorf("lambda must not be negative, got %v", p.Lambda))
	}
	if p.Sweeps < 1 {
		result = multierror.Append(result, fmt.Errorf("sweeps must be positive, got %d", p.Sweeps))
	}
	if p.NegRatio <= 0 {
		result = multierror.Append(result, fmt.Errorf("neg_ratio must be positive, got %v", p.NegRatio))
	}
	if p.MiningBatch < 1 || p.MiningRounds < 1 {
		result = multierror.Append(result, fmt.Errorf("mining_batch and mining_rounds must be positive"))
	}
	return result.ErrorOrNil()
}

func checkStageValues(result *multierror.Error, name string, values []float64, lo, hi float64) *multierror.Error {
	if len(values) == 0 {
		return multierror.Append(result, fmt.Errorf("%s needs at least one value", name))
	}
	for i, v := range values {
		if v < lo || v > hi {
			result = multierror.Append(result, fmt.Errorf("%s[%d] must be in [%v, %v], got %v", name, i, lo, hi, v))
		}
	}
	return result
}

func stageValue(values []float64, stage int) float64 {
	if stage >= len(values) {
		return values[len(values)-1]
	}
	return values[stage]
}

func (p TrainParams) cartParams(stage int) cart.Params {
	return cart.Params{
		FeatureCount: p.Features,
		Radius:       stageValue(p.Radius, stage),
		ClassProb:    stageValue(p.ClassProb, stage),
		Shrinkage:    p.Shrinkage,
	}
}

// MergeRule selects how overlapping detections are grouped.
type MergeRule string

const (
	// MergeMax keeps the highest scoring detection of every group.
	MergeMax MergeRule = "max"
	// MergeAverage replaces every group with the score weighted average of its
	// rectangles and shapes, keeping the highest score.
	MergeAverage MergeRule = "average"
)

// DetectParams tunes the sliding window search.
type DetectParams struct {
	// WindowSize is the side length of the evaluated windows, normally the training patch size.
	WindowSize int `mapstructure:"window_size"`
	// MinSize and MaxSize bound the searched face size in image pixels.
	// A zero MinSize searches from WindowSize, a zero MaxSize has no upper bound.
	MinSize int `mapstructure:"min_size"`
	MaxSize int `mapstructure:"max_size"`
	// ScaleFactor is the ratio between two successive searched face sizes.
	ScaleFactor float64 `mapstructure:"scale_factor"`
	// ShiftFactor is the window stride relative to the window size.
	ShiftFactor float64 `mapstructure:"shift_factor"`
	// Overlap is the intersection over union above which two detections are grouped.
	Overlap float64   `mapstructure:"overlap"`
	Merge   MergeRule `mapstructure:"merge"`
	Workers int       `mapstructure:"workers"`

	// Metrics receives the detection statistics when set.
	Metrics *metrics.Metrics `mapstructure:"-"`
}

// DefaultDetectParams returns the parameters used when none are provided.
func DefaultDetectParams() DetectParams {
	return DetectParams{
		WindowSize:  80,
		ScaleFactor: 1.2,
		ShiftFactor: 0.1,
		Overlap:     0.3,
		Merge:       MergeMax,
		Workers:     runtime.NumCPU(),
	}
}

// DecodeDetectParams overrides the defaults with the values of a generic map.
func DecodeDetectParams(input map[string]interface{}) (DetectParams, error) {
	p := DefaultDetectParams()
	if err := decode(input, &p); err != nil {
		return p, err
	}
	return p, p.Validate()
}

// Validate reports every invalid field of the detection parameters.
func (p DetectParams) Validate() error {
	var result *multierror.Error
	if p.WindowSize < 4 {
		result = multierror.Append(result, fmt.Errorf("window_size must be at least 4, got %d", p.WindowSize))
	}
	if p.MinSize < 0 || p.MaxSize < 0 {
		result = multierror.Append(result, fmt.Errorf("min_size and max_size must not be negative"))
	}
	if p.MaxSize > 0 && p.MaxSize < p.MinSize {
		result = multierror.Append(result, fmt.Errorf("max_size %d is below min_size %d", p.MaxSize, p.MinSize))
	}
	if p.ScaleFactor <= 1 {
		result = multierror.Append(result, fmt.Errorf("scale_factor must be greater than 1, got %v", p.ScaleFactor))
	}
	if p.ShiftFactor <= 0 || p.ShiftFactor > 1 {
		result = multierror.Append(result, fmt.Errorf("shift_factor must be in (0, 1], got %v", p.ShiftFactor))
	}
	if p.Overlap < 0 || p.Overlap > 1 {
		result = multierror.Append(result, fmt.Errorf("overlap must be in [0, 1], got %v", p.Overlap))
	}
	if p.Merge != MergeMax && p.Merge != MergeAverage {
		result = multierror.Append(result, fmt.Errorf("unknown merge rule %q", p.Merge))
	}
	return result.ErrorOrNil()
}

func decode(input map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		ZeroFields:       true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
