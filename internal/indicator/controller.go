package indicator

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Publisher 设备指令发布接口（MQTT）
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// desiredState 设备远程状态指令
type desiredState struct {
	Indicator string `json:"indicator"`        // "pulse" 或 "off"
	Repeat    int    `json:"repeat,omitempty"` // 脉冲次数
}

// Controller 设备指示器控制器
// 激活与延迟关闭是两条相互独立的 fire-and-forget 指令：
// 关闭指令无条件在固定延迟后发出（即使激活失败），一经调度不可取消；
// 任一指令失败只记日志，不重试，也不回滚另一条
type Controller struct {
	publisher    Publisher
	topicPattern string        // 指令主题模板，如 "geolock/device/%s/command"
	pulseRepeat  int           // 脉冲次数
	deactivateIn time.Duration // 自动关闭延迟
	logger       *zap.Logger
}

// NewController 创建指示器控制器
func NewController(publisher Publisher, topicPattern string, pulseRepeat int, deactivateIn time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		publisher:    publisher,
		topicPattern: topicPattern,
		pulseRepeat:  pulseRepeat,
		deactivateIn: deactivateIn,
		logger:       logger,
	}
}

// Activate 激活设备指示器并调度延迟关闭
func (c *Controller) Activate(deviceID string) {
	topic := fmt.Sprintf(c.topicPattern, deviceID)

	if err := c.publish(topic, desiredState{Indicator: "pulse", Repeat: c.pulseRepeat}); err != nil {
		c.logger.Error("Failed to activate indicator",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	} else {
		c.logger.Info("Indicator activated",
			zap.String("device_id", deviceID),
			zap.Duration("deactivate_in", c.deactivateIn),
		)
	}

	// 关闭指令无条件调度，不保留取消句柄
	time.AfterFunc(c.deactivateIn, func() {
		if err := c.publish(topic, desiredState{Indicator: "off"}); err != nil {
			c.logger.Error("Failed to deactivate indicator",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return
		}
		c.logger.Info("Indicator deactivated",
			zap.String("device_id", deviceID),
		)
	})
}

// publish 序列化并发布指令
func (c *Controller) publish(topic string, state desiredState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal desired state: %w", err)
	}
	return c.publisher.Publish(topic, payload)
}
