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

// LockStateRepository 锁定状态仓库
// lock_records 每设备一条；记录存在 ⇔ 设备锁定中
type LockStateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLockStateRepository 创建锁定状态仓库
func NewLockStateRepository(db *sql.DB, logger *zap.Logger) *LockStateRepository {
	return &LockStateRepository{
		db:     db,
		logger: logger,
	}
}

// Lock 锁定设备到指定位置
// 已锁定时覆盖旧记录（旧记录先归档到 lock_history，reason=relocked），总是成功
// 距离/严重级别字段留空，首次评估时才写入
func (r *LockStateRepository) Lock(ctx context.Context, deviceID string, pos models.Position, lockedAt time.Time) (*models.LockRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 归档已有锁定（如果存在）
	prev, err := scanLockRecord(tx.QueryRowContext(ctx, selectLockQuery, deviceID))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query existing lock: %w", err)
	}
	if err == nil {
		if archiveErr := archiveLock(ctx, tx, prev, models.ArchiveReasonRelocked); archiveErr != nil {
			return nil, archiveErr
		}
	}

	now := time.Now()
	record := &models.LockRecord{
		DeviceID:     deviceID,
		ReferenceLat: pos.Lat,
		ReferenceLon: pos.Lon,
		LockedAt:     lockedAt,
		Status:       models.LockStatusSafe,
		AlertCount:   0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `
		INSERT INTO lock_records (
			device_id, ref_lat, ref_lon, locked_at, status,
			current_distance, last_checked_at, last_alert_at, alert_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULL, NULL, NULL, 0, $6, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			ref_lat = EXCLUDED.ref_lat,
			ref_lon = EXCLUDED.ref_lon,
			locked_at = EXCLUDED.locked_at,
			status = EXCLUDED.status,
			current_distance = NULL,
			last_checked_at = NULL,
			last_alert_at = NULL,
			alert_count = 0,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		deviceID, pos.Lat, pos.Lon, lockedAt, models.LockStatusSafe, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert lock record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lock: %w", err)
	}

	r.logger.Info("Device locked",
		zap.String("device_id", deviceID),
		zap.Float64("lat", pos.Lat),
		zap.Float64("lon", pos.Lon),
	)

	return record, nil
}

// Unlock 解锁设备
// 在同一事务内先把当前记录快照写入 lock_history（reason=unlocked）再删除
// 不存在锁定时返回 ErrNotFound
func (r *LockStateRepository) Unlock(ctx context.Context, deviceID string) (*models.LockRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := scanLockRecord(tx.QueryRowContext(ctx, selectLockQuery, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query lock record: %w", err)
	}

	if err := archiveLock(ctx, tx, record, models.ArchiveReasonUnlocked); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM lock_records WHERE device_id = $1`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete lock record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unlock: %w", err)
	}

	r.logger.Info("Device unlocked",
		zap.String("device_id", deviceID),
	)

	return record, nil
}

// Get 获取设备当前锁定记录，不存在时返回 ErrNotFound
func (r *LockStateRepository) Get(ctx context.Context, deviceID string) (*models.LockRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	record, err := scanLockRecord(r.db.QueryRowContext(ctx, selectLockQuery, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query lock record: %w", err)
	}

	return record, nil
}

// UpdateAfterEvaluation 写回一次评估的结果
// 记录已不存在（设备被并发解锁）时静默跳过，这是预期情况而非错误
func (r *LockStateRepository) UpdateAfterEvaluation(ctx context.Context, deviceID string, distance float64, status string, checkedAt time.Time) error {
	query := `
		UPDATE lock_records
		SET current_distance = $2, status = $3, last_checked_at = $4, updated_at = $4
		WHERE device_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, deviceID, distance, status, checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update lock record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.logger.Debug("Lock record gone before update, device unlocked concurrently",
			zap.String("device_id", deviceID),
		)
	}

	return nil
}

// IncrementAlertCount 报警计数 +1 并记录最近报警时间（SQL 层面原子）
func (r *LockStateRepository) IncrementAlertCount(ctx context.Context, deviceID string, at time.Time) error {
	query := `
		UPDATE lock_records
		SET alert_count = alert_count + 1, last_alert_at = $2, updated_at = $2
		WHERE device_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, at); err != nil {
		return fmt.Errorf("failed to increment alert count: %w", err)
	}

	return nil
}

// ListLockedDeviceIDs 列出当前所有锁定中的设备（驱动定时评估）
func (r *LockStateRepository) ListLockedDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT device_id FROM lock_records ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked devices: %w", err)
	}
	defer rows.Close()

	var deviceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device_id: %w", err)
		}
		deviceIDs = append(deviceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locked devices: %w", err)
	}

	return deviceIDs, nil
}

const selectLockQuery = `
	SELECT device_id, ref_lat, ref_lon, locked_at, status,
	       current_distance, last_checked_at, last_alert_at, alert_count,
	       created_at, updated_at
	FROM lock_records
	WHERE device_id = $1
`

// scanLockRecord 从单行结果扫描锁定记录
func scanLockRecord(row *sql.Row) (*models.LockRecord, error) {
	var record models.LockRecord
	err := row.Scan(
		&record.DeviceID, &record.ReferenceLat, &record.ReferenceLon,
		&record.LockedAt, &record.Status,
		&record.CurrentDistance, &record.LastCheckedAt, &record.LastAlertAt,
		&record.AlertCount, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// archiveLock 把锁定记录快照写入 lock_history（不可变归档）
func archiveLock(ctx context.Context, tx *sql.Tx, record *models.LockRecord, reason string) error {
	query := `
		INSERT INTO lock_history (
			history_id, device_id, ref_lat, ref_lon, locked_at, status,
			current_distance, alert_count, reason, archived_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.ExecContext(ctx, query,
		uuid.New().String(), record.DeviceID,
		record.ReferenceLat, record.ReferenceLon,
		record.LockedAt, record.Status,
		record.CurrentDistance, record.AlertCount,
		reason, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive lock record: %w", err)
	}

	return nil
}
