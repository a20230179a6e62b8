package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"geolock-alarm/internal/models"
)

func TestDistance_ZeroWhenIdentical(t *testing.T) {
	p := models.Position{Lat: 10.0, Lon: 20.0}

	distance := Distance(p, p)

	assert.Equal(t, 0.0, distance)
}

func TestDistance_Symmetric(t *testing.T) {
	p1 := models.Position{Lat: 10.0, Lon: 20.0}
	p2 := models.Position{Lat: 10.5, Lon: 20.5}

	d12 := Distance(p1, p2)
	d21 := Distance(p2, p1)

	assert.InDelta(t, d12, d21, 1e-9)
	assert.Greater(t, d12, 0.0)
}

func TestDistance_KnownDisplacement(t *testing.T) {
	// 纬度偏移 0.0004° ≈ 44.5 米
	reference := models.Position{Lat: 10.000000, Lon: 20.000000}
	current := models.Position{Lat: 10.000400, Lon: 20.000000}

	distance := Distance(reference, current)

	assert.InDelta(t, 44.5, distance, 0.2)
}

func TestDistance_Antipodal(t *testing.T) {
	// 对跖点：半个地球周长，公式在 a→1 处不能出现除零/NaN
	p1 := models.Position{Lat: 0, Lon: 0}
	p2 := models.Position{Lat: 0, Lon: 180}

	distance := Distance(p1, p2)

	assert.False(t, distance != distance, "distance must not be NaN")
	assert.InDelta(t, 20015086, distance, 1000)
}

func TestEvaluate_WithinThreshold(t *testing.T) {
	evaluator := NewEvaluator(10, 25, 50)
	reference := models.Position{Lat: 10.0, Lon: 20.0}

	result := evaluator.Evaluate(reference, reference)

	assert.False(t, result.Exceeded)
	assert.Equal(t, 0.0, result.DistanceMeters)
	assert.Empty(t, result.Severity)
}

func TestEvaluate_SeverityTiers(t *testing.T) {
	evaluator := NewEvaluator(10, 25, 50)
	reference := models.Position{Lat: 10.0, Lon: 20.0}

	// 约 0.0000899° / 米（纬度方向）
	tests := []struct {
		name         string
		deltaLat     float64
		wantExceeded bool
		wantSeverity string
	}{
		{"5m_not_exceeded", 0.000045, false, ""},
		{"15m_low", 0.000135, true, models.SeverityLow},
		{"30m_medium", 0.000270, true, models.SeverityMedium},
		{"44m_medium", 0.000400, true, models.SeverityMedium},
		{"80m_high", 0.000720, true, models.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := models.Position{Lat: reference.Lat + tt.deltaLat, Lon: reference.Lon}

			result := evaluator.Evaluate(reference, current)

			assert.Equal(t, tt.wantExceeded, result.Exceeded)
			assert.Equal(t, tt.wantSeverity, result.Severity)
		})
	}
}

func TestEvaluate_BoundaryNotExceeded(t *testing.T) {
	// 正好等于阈值不算超出（distance > threshold 才报警）
	evaluator := NewEvaluator(10, 25, 50)

	result := evaluator.Evaluate(models.Position{}, models.Position{})
	assert.False(t, result.Exceeded)

	// classify 的边界：25 米整属于 low，50 米整属于 medium
	assert.Equal(t, models.SeverityLow, evaluator.classify(25))
	assert.Equal(t, models.SeverityMedium, evaluator.classify(25.01))
	assert.Equal(t, models.SeverityMedium, evaluator.classify(50))
	assert.Equal(t, models.SeverityHigh, evaluator.classify(50.01))
}

func TestNewEvaluator_Defaults(t *testing.T) {
	evaluator := NewEvaluator(0, 0, 0)

	assert.Equal(t, float64(DefaultThresholdMeters), evaluator.ThresholdMeters())
	assert.Equal(t, float64(MediumThresholdMeters), evaluator.mediumMeters)
	assert.Equal(t, float64(HighThresholdMeters), evaluator.highMeters)
}
