// Package metrics exposes the detection statistics and the training progress
// of a cascade as Prometheus collectors.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters updated by the detector and the trainer.
// A nil *Metrics is valid and discards every observation.
type Metrics struct {
	// Detection counters
	Patches     atomic.Uint64
	FacePatches atomic.Uint64
	NonFaces    atomic.Uint64
	UnitsRun    atomic.Uint64
	Detections  atomic.Uint64

	// Training progress
	Stage       atomic.Int64
	Unit        atomic.Int64
	Positives   atomic.Uint64
	Negatives   atomic.Uint64
	Mined       atomic.Uint64
	Checkpoints atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance registered on its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.Unit.Store(-1)
	m.register()

	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			fn,
		))
	}

	counter("jda_detect_patches_total", "Windows evaluated by the detector", &m.Patches)
	counter("jda_detect_face_patches_total", "Windows accepted by the cascade", &m.FacePatches)
	counter("jda_detect_nonface_patches_total", "Windows rejected by the cascade", &m.NonFaces)
	counter("jda_detect_faces_total", "Faces left after grouping", &m.Detections)
	gauge("jda_detect_average_units", "Average number of units run per window", m.AverageUnits)

	gauge("jda_train_stage", "Stage index of the training cursor",
		func() float64 { return float64(m.Stage.Load()) })
	gauge("jda_train_unit", "Unit index of the training cursor",
		func() float64 { return float64(m.Unit.Load()) })
	gauge("jda_train_positives", "Positive samples left in training",
		func() float64 { return float64(m.Positives.Load()) })
	gauge("jda_train_negatives", "Negative samples in the mined pool",
		func() float64 { return float64(m.Negatives.Load()) })
	counter("jda_train_mined_total", "Negative samples admitted by hard negative mining", &m.Mined)
	counter("jda_train_checkpoints_total", "Checkpoints written", &m.Checkpoints)
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDetection adds the counters of one detection call.
func (m *Metrics) ObserveDetection(patches, faces, nonFaces, unitsRun, detections int) {
	if m == nil {
		return
	}
	m.Patches.Add(uint64(patches))
	m.FacePatches.Add(uint64(faces))
	m.NonFaces.Add(uint64(nonFaces))
	m.UnitsRun.Add(uint64(unitsRun))
	m.Detections.Add(uint64(detections))
}

// AverageUnits returns the average number of units run over all observed windows.
func (m *Metrics) AverageUnits() float64 {
	patches := m.Patches.Load()
	if patches == 0 {
		return 0
	}
	return float64(m.UnitsRun.Load()) / float64(patches)
}

// ObserveCursor records the training cursor.
func (m *Metrics) ObserveCursor(stage, unit int) {
	if m == nil {
		return
	}
	m.Stage.Store(int64(stage))
	m.Unit.Store(int64(unit))
}

// ObservePool records the sizes of the training sample sets.
func (m *Metrics) ObservePool(positives, negatives int) {
	if m == nil {
		return
	}
	m.Positives.Store(uint64(positives))
	m.Negatives.Store(uint64(negatives))
}

// ObserveMined counts the negatives admitted by a mining round.
func (m *Metrics) ObserveMined(n int) {
	if m == nil {
		return
	}
	m.Mined.Add(uint64(n))
}

// ObserveCheckpoint counts a written checkpoint.
func (m *Metrics) ObserveCheckpoint() {
	if m == nil {
		return
	}
	m.Checkpoints.Add(1)
}
