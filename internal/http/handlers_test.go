package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
	"geolock-alarm/internal/repository"
)

// fakeLockStore 仅用于单元测试
type fakeLockStore struct {
	records map[string]*models.LockRecord
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{records: make(map[string]*models.LockRecord)}
}

func (f *fakeLockStore) Lock(ctx context.Context, deviceID string, pos models.Position, lockedAt time.Time) (*models.LockRecord, error) {
	record := &models.LockRecord{
		DeviceID:     deviceID,
		ReferenceLat: pos.Lat,
		ReferenceLon: pos.Lon,
		LockedAt:     lockedAt,
		Status:       models.LockStatusSafe,
	}
	f.records[deviceID] = record
	return record, nil
}

func (f *fakeLockStore) Unlock(ctx context.Context, deviceID string) (*models.LockRecord, error) {
	record, ok := f.records[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(f.records, deviceID)
	return record, nil
}

func (f *fakeLockStore) Get(ctx context.Context, deviceID string) (*models.LockRecord, error) {
	record, ok := f.records[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

// fakeAlertStore 仅用于单元测试
type fakeAlertStore struct {
	alerts []models.AlertRecord
}

func (f *fakeAlertStore) ListRecent(ctx context.Context, deviceID string, limit int, severity string) ([]models.AlertRecord, error) {
	var result []models.AlertRecord
	for _, alert := range f.alerts {
		if alert.DeviceID != deviceID {
			continue
		}
		if severity != "" && alert.Severity != severity {
			continue
		}
		result = append(result, alert)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// fakeTokenStore 仅用于单元测试
type fakeTokenStore struct {
	registered []models.TokenRecord
}

func (f *fakeTokenStore) Register(ctx context.Context, record *models.TokenRecord) error {
	f.registered = append(f.registered, *record)
	return nil
}

// fakePendingDispatcher 仅用于单元测试
type fakePendingDispatcher struct {
	calls []string
}

func (f *fakePendingDispatcher) DispatchPending(ctx context.Context, deviceID string) {
	f.calls = append(f.calls, deviceID)
}

type handlerEnv struct {
	router    *Router
	lockStore *fakeLockStore
	alerts    *fakeAlertStore
	tokens    *fakeTokenStore
	pending   *fakePendingDispatcher
}

func setupHandler(t *testing.T) *handlerEnv {
	env := &handlerEnv{
		lockStore: newFakeLockStore(),
		alerts:    &fakeAlertStore{},
		tokens:    &fakeTokenStore{},
		pending:   &fakePendingDispatcher{},
	}

	logger := zap.NewNop()
	handler := NewGeolockHandler(env.lockStore, env.alerts, env.tokens, env.pending, logger)
	env.router = NewRouter(logger)
	env.router.RegisterGeolockRoutes(handler)

	return env
}

func doJSON(t *testing.T, router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestLockHandler_Success(t *testing.T) {
	env := setupHandler(t)

	lat, lon := 10.0, 20.0
	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/lock", map[string]interface{}{
		"device_id": "device-1",
		"lat":       lat,
		"lon":       lon,
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var result Result[models.LockRecord]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, ResultSuccess, result.Code)
	assert.Equal(t, "device-1", result.Result.DeviceID)
	assert.Equal(t, lat, result.Result.ReferenceLat)
}

func TestLockHandler_MissingCoordinates(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/lock", map[string]interface{}{
		"device_id": "device-1",
	})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var result Result[any]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, ResultError, result.Code)
	assert.Contains(t, result.Message, "lat and lon are required")
}

func TestLockHandler_LatOutOfRange(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/lock", map[string]interface{}{
		"device_id": "device-1",
		"lat":       91.0,
		"lon":       20.0,
	})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUnlockHandler_NotFound(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/unlock", map[string]interface{}{
		"device_id": "device-unknown",
	})

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestUnlockHandler_Success(t *testing.T) {
	env := setupHandler(t)
	_, err := env.lockStore.Lock(context.Background(), "device-1", models.Position{Lat: 10, Lon: 20}, time.Now())
	require.NoError(t, err)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/unlock", map[string]interface{}{
		"device_id": "device-1",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, env.lockStore.records)
}

func TestRegisterTokenHandler_InvalidChannel(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/tokens", map[string]interface{}{
		"device_id": "device-1",
		"token":     "tok-1",
		"channel":   "sms",
	})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, env.tokens.registered)
}

func TestRegisterTokenHandler_Success(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodPost, "/geolock/api/v1/tokens", map[string]interface{}{
		"device_id": "device-1",
		"token":     "tok-1",
		"channel":   "direct",
		"owner":     "owner-1",
		"platform":  "android",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, env.tokens.registered, 1)
	assert.Equal(t, models.ChannelDirect, env.tokens.registered[0].Channel)
}

func TestListAlertsHandler_TriggersPendingDispatch(t *testing.T) {
	env := setupHandler(t)
	env.alerts.alerts = []models.AlertRecord{
		{AlertID: "alert-1", DeviceID: "device-1", Severity: models.SeverityHigh},
		{AlertID: "alert-2", DeviceID: "device-1", Severity: models.SeverityLow},
	}

	recorder := doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/alerts?device_id=device-1&severity=high", nil)

	assert.Equal(t, http.StatusOK, recorder.Code)

	// 查询前先走补发路径
	assert.Equal(t, []string{"device-1"}, env.pending.calls)

	var result Result[[]models.AlertRecord]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	require.Len(t, result.Result, 1)
	assert.Equal(t, "alert-1", result.Result[0].AlertID)
}

func TestListAlertsHandler_MissingDeviceID(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/alerts", nil)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, env.pending.calls)
}

func TestListAlertsHandler_InvalidSeverity(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/alerts?device_id=device-1&severity=critical", nil)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestStatusHandler(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/status?device_id=device-1", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	_, err := env.lockStore.Lock(context.Background(), "device-1", models.Position{Lat: 10, Lon: 20}, time.Now())
	require.NoError(t, err)

	recorder = doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/status?device_id=device-1", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var result Result[models.LockRecord]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.Equal(t, models.LockStatusSafe, result.Result.Status)
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupHandler(t)

	recorder := doJSON(t, env.router, http.MethodGet, "/geolock/api/v1/lock", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
