package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

// TopicPublisher 主题广播发布接口（MQTT）
type TopicPublisher interface {
	Publish(topic string, payload []byte) error
}

// PushSender 推送网关批量发送接口
type PushSender interface {
	SendMulticast(ctx context.Context, tokens []string, message PushMessage) ([]SendResult, error)
}

// TokenStore 有效 token 查询接口
type TokenStore interface {
	ListActive(ctx context.Context, deviceID string) ([]models.TokenRecord, error)
	TouchLastUsed(ctx context.Context, deviceID string, tokens []string, at time.Time) error
}

// DeliveryStore 分发结果持久化接口
type DeliveryStore interface {
	CreateSummary(ctx context.Context, summary *models.DeliverySummary) error
	Quarantine(ctx context.Context, deviceID, alertID string, tokens []string) error
}

// Dispatcher 通知分发器
// 两条渠道无条件并用（广播 + 批量推送），单渠道失败不影响另一渠道
type Dispatcher struct {
	tokenStore    TokenStore
	deliveryStore DeliveryStore
	publisher     TopicPublisher
	pushSender    PushSender
	topicPattern  string // 广播主题模板，如 "geolock/alerts/%s"
	logger        *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(
	tokenStore TokenStore,
	deliveryStore DeliveryStore,
	publisher TopicPublisher,
	pushSender PushSender,
	topicPattern string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		tokenStore:    tokenStore,
		deliveryStore: deliveryStore,
		publisher:     publisher,
		pushSender:    pushSender,
		topicPattern:  topicPattern,
		logger:        logger,
	}
}

// alertPayload 广播消息体
type alertPayload struct {
	AlertID    string  `json:"alert_id"`
	DeviceID   string  `json:"device_id"`
	Distance   float64 `json:"distance"`
	Severity   string  `json:"severity"`
	CurrentLat float64 `json:"current_lat"`
	CurrentLon float64 `json:"current_lon"`
	DetectedAt int64   `json:"detected_at"`
}

// Dispatch 分发一条报警
// 1. 查有效 token 并按渠道分组
// 2. 无 token 时只走广播（这是刻意的兜底，不是错误）
// 3. 有 direct token 时批量推送，失败的 token 进隔离表
// 4. 广播总是额外执行，与推送结果无关
// 5. 持久化 DeliverySummary
// 单次尽力而为，本组件不重试
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.AlertRecord) (*models.DispatchOutcome, error) {
	outcome := &models.DispatchOutcome{}

	tokens, err := d.tokenStore.ListActive(ctx, alert.DeviceID)
	if err != nil {
		// token 查询失败退化为纯广播
		d.logger.Error("Failed to list active tokens, falling back to topic only",
			zap.String("device_id", alert.DeviceID),
			zap.Error(err),
		)
		tokens = nil
	}

	directTokens := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Channel == models.ChannelDirect {
			directTokens = append(directTokens, t.Token)
		}
	}

	if len(directTokens) > 0 {
		d.sendDirect(ctx, alert, directTokens, outcome)
	}

	// 广播渠道无条件执行（刻意冗余，最大化覆盖）
	d.sendTopic(alert, outcome)

	summary := &models.DeliverySummary{
		AlertID:       alert.AlertID,
		TopicSent:     outcome.TopicSent,
		DirectSent:    outcome.DirectSent,
		DirectSuccess: outcome.DirectSuccess,
		DirectFailure: outcome.DirectFailure,
		FailedTokens:  outcome.FailedTokens,
	}
	if err := d.deliveryStore.CreateSummary(ctx, summary); err != nil {
		d.logger.Error("Failed to persist delivery summary",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
	}

	if !outcome.Succeeded() {
		d.logger.Error("Dispatch failed on all channels",
			zap.String("alert_id", alert.AlertID),
			zap.String("device_id", alert.DeviceID),
		)
	}

	return outcome, nil
}

// sendDirect 批量推送 direct 渠道，失败 token 进隔离表（仅记录，不停用）
func (d *Dispatcher) sendDirect(ctx context.Context, alert *models.AlertRecord, directTokens []string, outcome *models.DispatchOutcome) {
	outcome.DirectSent = true

	message := PushMessage{
		Title: "Movement alert",
		Body: fmt.Sprintf("Device %s moved %.1f m from its locked position (%s)",
			alert.DeviceID, alert.Distance, alert.Severity),
		Data: map[string]string{
			"alert_id":  alert.AlertID,
			"device_id": alert.DeviceID,
			"severity":  alert.Severity,
		},
	}

	results, err := d.pushSender.SendMulticast(ctx, directTokens, message)
	if err != nil {
		// 整批失败：全部 token 记为失败
		d.logger.Error("Direct multicast failed",
			zap.String("alert_id", alert.AlertID),
			zap.Int("token_count", len(directTokens)),
			zap.Error(err),
		)
		outcome.DirectFailure = len(directTokens)
		outcome.FailedTokens = append(outcome.FailedTokens, directTokens...)
	} else {
		var succeeded []string
		for _, result := range results {
			if result.Success {
				outcome.DirectSuccess++
				succeeded = append(succeeded, result.Token)
			} else {
				outcome.DirectFailure++
				outcome.FailedTokens = append(outcome.FailedTokens, result.Token)
			}
		}
		if len(succeeded) > 0 {
			if err := d.tokenStore.TouchLastUsed(ctx, alert.DeviceID, succeeded, time.Now()); err != nil {
				d.logger.Warn("Failed to touch last_used",
					zap.String("device_id", alert.DeviceID),
					zap.Error(err),
				)
			}
		}
	}

	if len(outcome.FailedTokens) > 0 {
		if err := d.deliveryStore.Quarantine(ctx, alert.DeviceID, alert.AlertID, outcome.FailedTokens); err != nil {
			d.logger.Error("Failed to quarantine tokens",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}
}

// sendTopic 广播渠道
func (d *Dispatcher) sendTopic(alert *models.AlertRecord, outcome *models.DispatchOutcome) {
	payload, err := json.Marshal(alertPayload{
		AlertID:    alert.AlertID,
		DeviceID:   alert.DeviceID,
		Distance:   alert.Distance,
		Severity:   alert.Severity,
		CurrentLat: alert.CurrentLat,
		CurrentLon: alert.CurrentLon,
		DetectedAt: alert.DetectedAt.Unix(),
	})
	if err != nil {
		d.logger.Error("Failed to marshal alert payload",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err),
		)
		return
	}

	topic := fmt.Sprintf(d.topicPattern, alert.DeviceID)
	if err := d.publisher.Publish(topic, payload); err != nil {
		d.logger.Error("Topic broadcast failed",
			zap.String("alert_id", alert.AlertID),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	outcome.TopicSent = true
}
