package models

import (
	"time"
)

// 位移严重级别
const (
	SeverityLow    = "low"    // 10-25 米
	SeverityMedium = "medium" // 25-50 米
	SeverityHigh   = "high"   // >50 米
)

// 报警来源
const (
	SourceScheduledCheck = "scheduled_check" // 定时评估
	SourceOnDemandCheck  = "on_demand_check" // 查询触发的评估
)

// AlertRecord 移动报警记录（对应 alert_records 表，只追加）
// notified 只允许 false→true 一次，由 TryClaimForNotification 的条件更新保证
type AlertRecord struct {
	AlertID    string     `json:"alert_id" db:"alert_id"`
	DeviceID   string     `json:"device_id" db:"device_id"`
	Distance   float64    `json:"distance" db:"distance"` // 米
	Threshold  float64    `json:"threshold" db:"threshold"`
	Severity   string     `json:"severity" db:"severity"`
	LockedLat  float64    `json:"locked_lat" db:"locked_lat"`
	LockedLon  float64    `json:"locked_lon" db:"locked_lon"`
	CurrentLat float64    `json:"current_lat" db:"current_lat"`
	CurrentLon float64    `json:"current_lon" db:"current_lon"`
	LockedAt   time.Time  `json:"locked_at" db:"locked_at"`
	DetectedAt time.Time  `json:"detected_at" db:"detected_at"`
	Source     string     `json:"source" db:"source"`
	Notified   bool       `json:"notified" db:"notified"`
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
}

// LockedPosition 返回锁定位置
func (a *AlertRecord) LockedPosition() Position {
	return Position{Lat: a.LockedLat, Lon: a.LockedLon}
}

// CurrentPosition 返回检测时位置
func (a *AlertRecord) CurrentPosition() Position {
	return Position{Lat: a.CurrentLat, Lon: a.CurrentLon}
}
