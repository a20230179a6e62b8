package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"geolock-alarm/internal/geofence"
	"geolock-alarm/internal/models"
	"geolock-alarm/internal/repository"
	"geolock-alarm/internal/telemetry"
)

// LockStore 锁定状态存取接口
type LockStore interface {
	Get(ctx context.Context, deviceID string) (*models.LockRecord, error)
	UpdateAfterEvaluation(ctx context.Context, deviceID string, distance float64, status string, checkedAt time.Time) error
	IncrementAlertCount(ctx context.Context, deviceID string, at time.Time) error
	ListLockedDeviceIDs(ctx context.Context) ([]string, error)
}

// AlertStore 报警记录存取接口
type AlertStore interface {
	Create(ctx context.Context, alert *models.AlertRecord) (string, error)
	TryClaimForNotification(ctx context.Context, alertID string) (bool, error)
	ListUnnotified(ctx context.Context, deviceID string) ([]models.AlertRecord, error)
}

// PositionSource 设备最新位置来源接口
type PositionSource interface {
	GetLatestPosition(ctx context.Context, deviceID string) (*models.Position, error)
}

// AlertDispatcher 通知分发接口
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *models.AlertRecord) (*models.DispatchOutcome, error)
}

// IndicatorController 设备指示器接口
type IndicatorController interface {
	Activate(deviceID string)
}

// Orchestrator 评估编排器
// 每设备状态机：NoLock → Locked(safe) → Locked(alert) →（解锁）NoLock
// 允许同一设备的多次评估并发交叠；唯一的串行化点是报警的通知抢占
type Orchestrator struct {
	evaluator  *geofence.Evaluator
	lockStore  LockStore
	alertStore AlertStore
	positions  PositionSource
	dispatcher AlertDispatcher
	indicator  IndicatorController
	logger     *zap.Logger
}

// NewOrchestrator 创建评估编排器
func NewOrchestrator(
	evaluator *geofence.Evaluator,
	lockStore LockStore,
	alertStore AlertStore,
	positions PositionSource,
	dispatcher AlertDispatcher,
	indicator IndicatorController,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		evaluator:  evaluator,
		lockStore:  lockStore,
		alertStore: alertStore,
		positions:  positions,
		dispatcher: dispatcher,
		indicator:  indicator,
		logger:     logger,
	}
}

// EvaluateDevice 对单个设备执行一次评估
// 无锁定记录时纯 no-op；下游通知/指示器失败不影响锁定状态回写
func (o *Orchestrator) EvaluateDevice(ctx context.Context, deviceID, source string) error {
	lock, err := o.lockStore.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 设备未锁定，无事可做
			return nil
		}
		return fmt.Errorf("failed to get lock record: %w", err)
	}

	current, err := o.positions.GetLatestPosition(ctx, deviceID)
	if err != nil {
		if errors.Is(err, telemetry.ErrPositionNotAvailable) {
			o.logger.Warn("No position available, skipping evaluation",
				zap.String("device_id", deviceID),
			)
			return nil
		}
		return fmt.Errorf("failed to get latest position: %w", err)
	}

	result := o.evaluator.Evaluate(lock.ReferencePosition(), *current)
	now := time.Now()

	if !result.Exceeded {
		if err := o.lockStore.UpdateAfterEvaluation(ctx, deviceID, result.DistanceMeters, models.LockStatusSafe, now); err != nil {
			return fmt.Errorf("failed to update lock state: %w", err)
		}
		return nil
	}

	// 超出安全半径：先回写状态，再创建报警并尝试抢占通知权
	if err := o.lockStore.UpdateAfterEvaluation(ctx, deviceID, result.DistanceMeters, models.LockStatusAlert, now); err != nil {
		o.logger.Error("Failed to update lock state, continuing with alert",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	alert := &models.AlertRecord{
		DeviceID:   deviceID,
		Distance:   result.DistanceMeters,
		Threshold:  o.evaluator.ThresholdMeters(),
		Severity:   result.Severity,
		LockedLat:  lock.ReferenceLat,
		LockedLon:  lock.ReferenceLon,
		CurrentLat: current.Lat,
		CurrentLon: current.Lon,
		LockedAt:   lock.LockedAt,
		DetectedAt: now,
		Source:     source,
	}

	alertID, err := o.alertStore.Create(ctx, alert)
	if err != nil {
		return fmt.Errorf("failed to create alert record: %w", err)
	}

	o.logger.Info("Movement detected",
		zap.String("device_id", deviceID),
		zap.String("alert_id", alertID),
		zap.Float64("distance", result.DistanceMeters),
		zap.String("severity", result.Severity),
		zap.String("source", source),
	)

	return o.claimAndNotify(ctx, alert)
}

// claimAndNotify 抢占报警通知权并分发
// 输掉抢占是预期情况（另一个评估者已拥有该报警），直接跳过
func (o *Orchestrator) claimAndNotify(ctx context.Context, alert *models.AlertRecord) error {
	claimed, err := o.alertStore.TryClaimForNotification(ctx, alert.AlertID)
	if err != nil {
		return fmt.Errorf("failed to claim alert: %w", err)
	}
	if !claimed {
		o.logger.Debug("Lost notification claim, skipping dispatch",
			zap.String("alert_id", alert.AlertID),
		)
		return nil
	}

	// 通知分发与指示器激活并发执行，互不依赖
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if _, err := o.dispatcher.Dispatch(ctx, alert); err != nil {
			o.logger.Error("Dispatch failed",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}()

	go func() {
		defer wg.Done()
		o.indicator.Activate(alert.DeviceID)
	}()

	wg.Wait()

	if err := o.lockStore.IncrementAlertCount(ctx, alert.DeviceID, time.Now()); err != nil {
		o.logger.Error("Failed to increment alert count",
			zap.String("device_id", alert.DeviceID),
			zap.Error(err),
		)
	}

	return nil
}

// DispatchPending 为设备补发尚未通知的 medium/high 级报警
// 读路径（报警列表查询）调用，与定时评估共用同一抢占原语
func (o *Orchestrator) DispatchPending(ctx context.Context, deviceID string) {
	alerts, err := o.alertStore.ListUnnotified(ctx, deviceID)
	if err != nil {
		o.logger.Error("Failed to list unnotified alerts",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return
	}

	for i := range alerts {
		if err := o.claimAndNotify(ctx, &alerts[i]); err != nil {
			o.logger.Error("Failed to dispatch pending alert",
				zap.String("alert_id", alerts[i].AlertID),
				zap.Error(err),
			)
			// 继续处理其他报警，不中断
		}
	}
}

// EvaluateAll 评估所有锁定中的设备（定时触发入口）
func (o *Orchestrator) EvaluateAll(ctx context.Context) error {
	deviceIDs, err := o.lockStore.ListLockedDeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locked devices: %w", err)
	}

	o.logger.Debug("Evaluating locked devices",
		zap.Int("device_count", len(deviceIDs)),
	)

	for _, deviceID := range deviceIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := o.EvaluateDevice(ctx, deviceID, models.SourceScheduledCheck); err != nil {
			o.logger.Error("Failed to evaluate device",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			// 继续处理其他设备，不中断
		}
	}

	return nil
}
