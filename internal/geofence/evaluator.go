package geofence

import (
	"math"

	"geolock-alarm/internal/models"
)

// 地球半径（米），球面近似
const earthRadiusMeters = 6371000

// 严重级别阈值（米）
const (
	DefaultThresholdMeters = 10
	MediumThresholdMeters  = 25
	HighThresholdMeters    = 50
)

// Result 一次位移评估的结果
type Result struct {
	DistanceMeters float64
	Severity       string // 仅在 Exceeded 时有值
	Exceeded       bool
}

// Evaluator 位移评估器（纯计算，无副作用）
type Evaluator struct {
	thresholdMeters float64
	mediumMeters    float64
	highMeters      float64
}

// NewEvaluator 创建评估器
// threshold/medium/high <= 0 时使用默认值 10/25/50 米
func NewEvaluator(thresholdMeters, mediumMeters, highMeters float64) *Evaluator {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	if mediumMeters <= 0 {
		mediumMeters = MediumThresholdMeters
	}
	if highMeters <= 0 {
		highMeters = HighThresholdMeters
	}
	return &Evaluator{
		thresholdMeters: thresholdMeters,
		mediumMeters:    mediumMeters,
		highMeters:      highMeters,
	}
}

// ThresholdMeters 返回报警阈值（米）
func (e *Evaluator) ThresholdMeters() float64 {
	return e.thresholdMeters
}

// Evaluate 计算参考位置与当前位置之间的位移并分级
func (e *Evaluator) Evaluate(reference, current models.Position) Result {
	distance := Distance(reference, current)

	result := Result{
		DistanceMeters: distance,
		Exceeded:       distance > e.thresholdMeters,
	}

	if result.Exceeded {
		result.Severity = e.classify(distance)
	}

	return result
}

// classify 按位移距离分级（仅在超出阈值时调用）
func (e *Evaluator) classify(distance float64) string {
	switch {
	case distance > e.highMeters:
		return models.SeverityHigh
	case distance > e.mediumMeters:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Distance 计算两点间大圆距离（Haversine，米）
// a ∈ [0,1]，对零距离和对跖点都数值安全
func Distance(p1, p2 models.Position) float64 {
	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	deltaLat := (p2.Lat - p1.Lat) * math.Pi / 180
	deltaLon := (p2.Lon - p1.Lon) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
