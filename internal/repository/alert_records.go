package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

// AlertRepository 移动报警记录仓库（alert_records 表，只追加）
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警记录仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id, device_id, distance, threshold, severity,
	locked_lat, locked_lon, current_lat, current_lon,
	locked_at, detected_at, source, notified, notified_at
`

// Create 创建报警记录，notified 默认 false
// alert_id 为空时自动生成，返回最终使用的 ID
func (r *AlertRepository) Create(ctx context.Context, alert *models.AlertRecord) (string, error) {
	if alert.DeviceID == "" {
		return "", fmt.Errorf("device_id is required")
	}
	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}
	alert.Notified = false
	alert.NotifiedAt = nil

	query := `
		INSERT INTO alert_records (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, NULL)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.AlertID, alert.DeviceID, alert.Distance, alert.Threshold, alert.Severity,
		alert.LockedLat, alert.LockedLon, alert.CurrentLat, alert.CurrentLon,
		alert.LockedAt, alert.DetectedAt, alert.Source,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create alert record: %w", err)
	}

	r.logger.Info("Alert record created",
		zap.String("alert_id", alert.AlertID),
		zap.String("device_id", alert.DeviceID),
		zap.Float64("distance", alert.Distance),
		zap.String("severity", alert.Severity),
	)

	return alert.AlertID, nil
}

// TryClaimForNotification 原子抢占报警的通知权
// 条件更新：仅当 notified 仍为 FALSE 时置为 TRUE；RowsAffected==1 表示抢占成功
// 这是防止并发评估重复分发的唯一同步点，失败方必须跳过分发
func (r *AlertRepository) TryClaimForNotification(ctx context.Context, alertID string) (bool, error) {
	if alertID == "" {
		return false, fmt.Errorf("alert_id is required")
	}

	query := `
		UPDATE alert_records
		SET notified = TRUE, notified_at = $2
		WHERE alert_id = $1 AND notified = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, alertID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListRecent 按时间倒序列出设备最近的报警，可按严重级别过滤
func (r *AlertRepository) ListRecent(ctx context.Context, deviceID string, limit int, severity string) ([]models.AlertRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + alertColumns + ` FROM alert_records WHERE device_id = $1`
	args := []interface{}{deviceID}

	if severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", len(args)+1)
		args = append(args, severity)
	}

	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return scanAlertRows(rows)
}

// ListUnnotified 列出设备尚未通知的 medium/high 级报警（读路径补发用）
func (r *AlertRepository) ListUnnotified(ctx context.Context, deviceID string) ([]models.AlertRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alert_records
		WHERE device_id = $1 AND notified = FALSE AND severity IN ($2, $3)
		ORDER BY detected_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, models.SeverityMedium, models.SeverityHigh)
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified alerts: %w", err)
	}
	defer rows.Close()

	return scanAlertRows(rows)
}

// scanAlertRows 扫描报警记录结果集
func scanAlertRows(rows *sql.Rows) ([]models.AlertRecord, error) {
	var alerts []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		err := rows.Scan(
			&a.AlertID, &a.DeviceID, &a.Distance, &a.Threshold, &a.Severity,
			&a.LockedLat, &a.LockedLon, &a.CurrentLat, &a.CurrentLon,
			&a.LockedAt, &a.DetectedAt, &a.Source, &a.Notified, &a.NotifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert records: %w", err)
	}

	return alerts, nil
}
