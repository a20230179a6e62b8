package models

import (
	"time"
)

// Position 地理坐标（WGS-84）
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// 锁定状态
const (
	LockStatusSafe  = "locked_safe"  // 在安全半径内
	LockStatusAlert = "locked_alert" // 超出安全半径
)

// 归档原因
const (
	ArchiveReasonUnlocked = "unlocked" // 显式解锁
	ArchiveReasonRelocked = "relocked" // 被新的锁定覆盖
)

// LockRecord 锁定记录（对应 lock_records 表，每设备一条）
// 记录存在 ⇔ 设备处于锁定状态；解锁即删除（先归档到 lock_history）
type LockRecord struct {
	DeviceID        string     `json:"device_id" db:"device_id"`
	ReferenceLat    float64    `json:"reference_lat" db:"ref_lat"`
	ReferenceLon    float64    `json:"reference_lon" db:"ref_lon"`
	LockedAt        time.Time  `json:"locked_at" db:"locked_at"`
	Status          string     `json:"status" db:"status"`
	CurrentDistance *float64   `json:"current_distance,omitempty" db:"current_distance"` // 米，首次评估前为空
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`
	LastAlertAt     *time.Time `json:"last_alert_at,omitempty" db:"last_alert_at"`
	AlertCount      int        `json:"alert_count" db:"alert_count"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ReferencePosition 返回锁定参考位置
func (r *LockRecord) ReferencePosition() Position {
	return Position{Lat: r.ReferenceLat, Lon: r.ReferenceLon}
}

// LockHistoryEntry 锁定归档记录（对应 lock_history 表，不可变）
type LockHistoryEntry struct {
	HistoryID       string    `json:"history_id" db:"history_id"`
	DeviceID        string    `json:"device_id" db:"device_id"`
	ReferenceLat    float64   `json:"reference_lat" db:"ref_lat"`
	ReferenceLon    float64   `json:"reference_lon" db:"ref_lon"`
	LockedAt        time.Time `json:"locked_at" db:"locked_at"`
	Status          string    `json:"status" db:"status"`
	CurrentDistance *float64  `json:"current_distance,omitempty" db:"current_distance"`
	AlertCount      int       `json:"alert_count" db:"alert_count"`
	Reason          string    `json:"reason" db:"reason"` // unlocked, relocked
	ArchivedAt      time.Time `json:"archived_at" db:"archived_at"`
}
