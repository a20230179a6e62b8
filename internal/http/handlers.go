package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"geolock-alarm/internal/models"
	"geolock-alarm/internal/repository"
)

// LockStore 锁定状态操作接口
type LockStore interface {
	Lock(ctx context.Context, deviceID string, pos models.Position, lockedAt time.Time) (*models.LockRecord, error)
	Unlock(ctx context.Context, deviceID string) (*models.LockRecord, error)
	Get(ctx context.Context, deviceID string) (*models.LockRecord, error)
}

// AlertStore 报警查询接口
type AlertStore interface {
	ListRecent(ctx context.Context, deviceID string, limit int, severity string) ([]models.AlertRecord, error)
}

// TokenStore token 注册接口
type TokenStore interface {
	Register(ctx context.Context, record *models.TokenRecord) error
}

// PendingDispatcher 未通知报警的补发接口
// 报警列表查询会先走一遍补发，与定时评估共用同一抢占原语
type PendingDispatcher interface {
	DispatchPending(ctx context.Context, deviceID string)
}

// GeolockHandler 锁定/报警接口处理器
type GeolockHandler struct {
	lockStore  LockStore
	alertStore AlertStore
	tokenStore TokenStore
	pending    PendingDispatcher
	logger     *zap.Logger
}

// NewGeolockHandler 创建处理器
func NewGeolockHandler(
	lockStore LockStore,
	alertStore AlertStore,
	tokenStore TokenStore,
	pending PendingDispatcher,
	logger *zap.Logger,
) *GeolockHandler {
	return &GeolockHandler{
		lockStore:  lockStore,
		alertStore: alertStore,
		tokenStore: tokenStore,
		pending:    pending,
		logger:     logger,
	}
}

// lockRequest 锁定请求体（强类型校验，指针区分缺省与零值）
type lockRequest struct {
	DeviceID string   `json:"device_id"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
}

func (r *lockRequest) validate() string {
	if r.DeviceID == "" {
		return "device_id is required"
	}
	if r.Lat == nil || r.Lon == nil {
		return "lat and lon are required"
	}
	if *r.Lat < -90 || *r.Lat > 90 {
		return "lat out of range"
	}
	if *r.Lon < -180 || *r.Lon > 180 {
		return "lon out of range"
	}
	return ""
}

// Lock 锁定设备到指定位置（已锁定时覆盖）
func (h *GeolockHandler) Lock(w http.ResponseWriter, req *http.Request) {
	var body lockRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if msg := body.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, Fail(msg))
		return
	}

	record, err := h.lockStore.Lock(req.Context(), body.DeviceID, models.Position{Lat: *body.Lat, Lon: *body.Lon}, time.Now())
	if err != nil {
		h.logger.Error("Failed to lock device",
			zap.String("device_id", body.DeviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to lock device"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(record))
}

// unlockRequest 解锁请求体
type unlockRequest struct {
	DeviceID string `json:"device_id"`
}

// Unlock 解锁设备（锁定记录归档后删除）
func (h *GeolockHandler) Unlock(w http.ResponseWriter, req *http.Request) {
	var body unlockRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_id is required"))
		return
	}

	record, err := h.lockStore.Unlock(req.Context(), body.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("device is not locked"))
			return
		}
		h.logger.Error("Failed to unlock device",
			zap.String("device_id", body.DeviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to unlock device"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(record))
}

// tokenRequest token 注册请求体
type tokenRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
	Channel  string `json:"channel"`
	Owner    string `json:"owner"`
	Platform string `json:"platform"`
}

func (r *tokenRequest) validate() string {
	if r.DeviceID == "" {
		return "device_id is required"
	}
	if r.Token == "" {
		return "token is required"
	}
	if r.Channel != models.ChannelTopic && r.Channel != models.ChannelDirect {
		return "channel must be topic or direct"
	}
	return ""
}

// RegisterToken 注册通知接收端 token
func (h *GeolockHandler) RegisterToken(w http.ResponseWriter, req *http.Request) {
	var body tokenRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if msg := body.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, Fail(msg))
		return
	}

	record := &models.TokenRecord{
		DeviceID: body.DeviceID,
		Token:    body.Token,
		Channel:  body.Channel,
		Owner:    body.Owner,
		Platform: body.Platform,
	}
	if err := h.tokenStore.Register(req.Context(), record); err != nil {
		h.logger.Error("Failed to register token",
			zap.String("device_id", body.DeviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to register token"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "registered"}))
}

// ListAlerts 查询设备最近报警（可按 severity 过滤）
// 查询前先补发该设备尚未通知的 medium/high 级报警
func (h *GeolockHandler) ListAlerts(w http.ResponseWriter, req *http.Request) {
	deviceID := req.URL.Query().Get("device_id")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_id is required"))
		return
	}

	severity := req.URL.Query().Get("severity")
	if severity != "" && severity != models.SeverityLow && severity != models.SeverityMedium && severity != models.SeverityHigh {
		writeJSON(w, http.StatusBadRequest, Fail("invalid severity"))
		return
	}

	limit := 20
	if rawLimit := req.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, Fail("invalid limit"))
			return
		}
		limit = parsed
	}

	// 读路径触发的补发
	h.pending.DispatchPending(req.Context(), deviceID)

	alerts, err := h.alertStore.ListRecent(req.Context(), deviceID, limit, severity)
	if err != nil {
		h.logger.Error("Failed to list alerts",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list alerts"))
		return
	}
	if alerts == nil {
		alerts = []models.AlertRecord{}
	}

	writeJSON(w, http.StatusOK, Ok(alerts))
}

// Status 查询设备当前锁定状态
func (h *GeolockHandler) Status(w http.ResponseWriter, req *http.Request) {
	deviceID := req.URL.Query().Get("device_id")
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_id is required"))
		return
	}

	record, err := h.lockStore.Get(req.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("device is not locked"))
			return
		}
		h.logger.Error("Failed to get lock status",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get lock status"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(record))
}
