package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.Metric, len(families))
	for _, f := range families {
		require.Len(t, f.GetMetric(), 1)
		out[f.GetName()] = f.GetMetric()[0]
	}
	return out
}

func TestMetrics_Detection(t *testing.T) {
	assert := assert.New(t)

	m := New()
	m.ObserveDetection(10, 3, 7, 25, 1)
	m.ObserveDetection(10, 1, 9, 15, 1)

	got := gather(t, m)
	assert.Equal(20.0, got["jda_detect_patches_total"].GetCounter().GetValue())
	assert.Equal(4.0, got["jda_detect_face_patches_total"].GetCounter().GetValue())
	assert.Equal(16.0, got["jda_detect_nonface_patches_total"].GetCounter().GetValue())
	assert.Equal(2.0, got["jda_detect_faces_total"].GetCounter().GetValue())
	assert.Equal(2.0, got["jda_detect_average_units"].GetGauge().GetValue())
}

func TestMetrics_Training(t *testing.T) {
	assert := assert.New(t)

	m := New()
	assert.Equal(-1.0, gather(t, m)["jda_train_unit"].GetGauge().GetValue())

	m.ObserveCursor(2, 4)
	m.ObservePool(90, 120)
	m.ObserveMined(30)
	m.ObserveCheckpoint()

	got := gather(t, m)
	assert.Equal(2.0, got["jda_train_stage"].GetGauge().GetValue())
	assert.Equal(4.0, got["jda_train_unit"].GetGauge().GetValue())
	assert.Equal(90.0, got["jda_train_positives"].GetGauge().GetValue())
	assert.Equal(120.0, got["jda_train_negatives"].GetGauge().GetValue())
	assert.Equal(30.0, got["jda_train_mined_total"].GetCounter().GetValue())
	assert.Equal(1.0, got["jda_train_checkpoints_total"].GetCounter().GetValue())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDetection(1, 1, 0, 1, 1)
		m.ObserveCursor(1, 0)
		m.ObservePool(1, 1)
		m.ObserveMined(1)
		m.ObserveCheckpoint()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDetection(4, 1, 3, 6, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "jda_detect_patches_total 4"))
}
