package models

import (
	"time"
)

// 通知渠道
const (
	ChannelTopic  = "topic"  // 主题广播
	ChannelDirect = "direct" // 按 token 单播/组播
)

// TokenRecord 推送 token 注册记录（对应 push_tokens 表）
// (device_id, token) 唯一；失效的 token 标记 active=false，不删除（保留审计）
type TokenRecord struct {
	DeviceID     string     `json:"device_id" db:"device_id"`
	Token        string     `json:"token" db:"token"`
	Channel      string     `json:"channel" db:"channel"` // topic, direct
	Owner        string     `json:"owner" db:"owner"`
	Platform     string     `json:"platform" db:"platform"`
	Active       bool       `json:"active" db:"active"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
	LastUsed     *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// DeliverySummary 一次通知分发的结果汇总（对应 delivery_summaries 表）
type DeliverySummary struct {
	SummaryID     string    `json:"summary_id" db:"summary_id"`
	AlertID       string    `json:"alert_id" db:"alert_id"`
	TopicSent     bool      `json:"topic_sent" db:"topic_sent"`
	DirectSent    bool      `json:"direct_sent" db:"direct_sent"`
	DirectSuccess int       `json:"direct_success" db:"direct_success"`
	DirectFailure int       `json:"direct_failure" db:"direct_failure"`
	FailedTokens  []string  `json:"failed_tokens" db:"failed_tokens"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// DispatchOutcome 分发结果（未持久化的过程值）
type DispatchOutcome struct {
	TopicSent     bool
	DirectSent    bool
	DirectSuccess int
	DirectFailure int
	FailedTokens  []string
}

// Succeeded 任一渠道至少送达一条即视为分发成功
func (o *DispatchOutcome) Succeeded() bool {
	return o.TopicSent || o.DirectSuccess > 0
}
