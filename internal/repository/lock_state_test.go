package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

func setupMockLockStateDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *LockStateRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewLockStateRepository(db, logger)

	return db, mock, repo
}

func lockRecordRows(deviceID string, lockedAt time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"device_id", "ref_lat", "ref_lon", "locked_at", "status",
		"current_distance", "last_checked_at", "last_alert_at", "alert_count",
		"created_at", "updated_at",
	}).AddRow(
		deviceID, 10.0, 20.0, lockedAt, models.LockStatusSafe,
		nil, nil, nil, 0, now, now,
	)
}

func TestLock_NewDevice(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	ctx := context.Background()
	lockedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("device-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO lock_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.Lock(ctx, "device-1", models.Position{Lat: 10.0, Lon: 20.0}, lockedAt)

	require.NoError(t, err)
	assert.Equal(t, "device-1", record.DeviceID)
	assert.Equal(t, models.LockStatusSafe, record.Status)
	assert.Nil(t, record.CurrentDistance)
	assert.Equal(t, 0, record.AlertCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_OverwriteArchivesPrevious(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	ctx := context.Background()
	lockedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("device-1").
		WillReturnRows(lockRecordRows("device-1", lockedAt.Add(-time.Hour)))
	mock.ExpectExec(`INSERT INTO lock_history`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO lock_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.Lock(ctx, "device-1", models.Position{Lat: 11.0, Lon: 21.0}, lockedAt)

	require.NoError(t, err)
	assert.Equal(t, 11.0, record.ReferenceLat)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_InvalidDeviceID(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	record, err := repo.Lock(context.Background(), "", models.Position{}, time.Now())

	assert.Error(t, err)
	assert.Nil(t, record)
	assert.Contains(t, err.Error(), "device_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlock_Success(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	ctx := context.Background()
	lockedAt := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("device-1").
		WillReturnRows(lockRecordRows("device-1", lockedAt))
	mock.ExpectExec(`INSERT INTO lock_history`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM lock_records`).
		WithArgs("device-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := repo.Unlock(ctx, "device-1")

	require.NoError(t, err)
	assert.Equal(t, "device-1", record.DeviceID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlock_NotFound(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).
		WithArgs("device-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	record, err := repo.Unlock(context.Background(), "device-1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, record)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("device-1").
		WillReturnError(sql.ErrNoRows)

	record, err := repo.Get(context.Background(), "device-1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, record)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAfterEvaluation_NoRowsIsNoop(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	checkedAt := time.Now()

	// 设备已被并发解锁：0 行受影响不是错误
	mock.ExpectExec(`UPDATE lock_records`).
		WithArgs("device-1", 5.0, models.LockStatusSafe, checkedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAfterEvaluation(context.Background(), "device-1", 5.0, models.LockStatusSafe, checkedAt)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementAlertCount(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	at := time.Now()

	mock.ExpectExec(`UPDATE lock_records`).
		WithArgs("device-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementAlertCount(context.Background(), "device-1", at)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLockedDeviceIDs(t *testing.T) {
	db, mock, repo := setupMockLockStateDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"device_id"}).
		AddRow("device-1").
		AddRow("device-2")

	mock.ExpectQuery(`SELECT device_id FROM lock_records`).
		WillReturnRows(rows)

	ids, err := repo.ListLockedDeviceIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"device-1", "device-2"}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}
