package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

// TokenRepository 推送 token 仓库（push_tokens 表）
type TokenRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTokenRepository 创建推送 token 仓库
func NewTokenRepository(db *sql.DB, logger *zap.Logger) *TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

// Register 注册 token，(device_id, token) 冲突时重新激活并更新属主信息
func (r *TokenRepository) Register(ctx context.Context, record *models.TokenRecord) error {
	if record.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if record.Token == "" {
		return fmt.Errorf("token is required")
	}
	if record.Channel != models.ChannelTopic && record.Channel != models.ChannelDirect {
		return fmt.Errorf("invalid channel: %s", record.Channel)
	}

	now := time.Now()
	query := `
		INSERT INTO push_tokens (
			device_id, token, channel, owner, platform, active, registered_at, last_used
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, NULL)
		ON CONFLICT (device_id, token) DO UPDATE SET
			channel = EXCLUDED.channel,
			owner = EXCLUDED.owner,
			platform = EXCLUDED.platform,
			active = TRUE,
			registered_at = EXCLUDED.registered_at
	`

	_, err := r.db.ExecContext(ctx, query,
		record.DeviceID, record.Token, record.Channel,
		record.Owner, record.Platform, now,
	)
	if err != nil {
		return fmt.Errorf("failed to register token: %w", err)
	}

	r.logger.Info("Push token registered",
		zap.String("device_id", record.DeviceID),
		zap.String("channel", record.Channel),
		zap.String("platform", record.Platform),
	)

	return nil
}

// ListActive 列出设备当前有效的 token
func (r *TokenRepository) ListActive(ctx context.Context, deviceID string) ([]models.TokenRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT device_id, token, channel, owner, platform, active, registered_at, last_used
		FROM push_tokens
		WHERE device_id = $1 AND active = TRUE
		ORDER BY registered_at
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.TokenRecord
	for rows.Next() {
		var t models.TokenRecord
		err := rows.Scan(
			&t.DeviceID, &t.Token, &t.Channel, &t.Owner,
			&t.Platform, &t.Active, &t.RegisteredAt, &t.LastUsed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token record: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token records: %w", err)
	}

	return tokens, nil
}

// Deactivate 标记 token 失效（只打标，不删除，保留审计）
func (r *TokenRepository) Deactivate(ctx context.Context, deviceID, token string) error {
	query := `
		UPDATE push_tokens
		SET active = FALSE
		WHERE device_id = $1 AND token = $2
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, token); err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}

	return nil
}

// TouchLastUsed 更新一批 token 的最近使用时间
func (r *TokenRepository) TouchLastUsed(ctx context.Context, deviceID string, tokens []string, at time.Time) error {
	if len(tokens) == 0 {
		return nil
	}

	query := `
		UPDATE push_tokens
		SET last_used = $3
		WHERE device_id = $1 AND token = ANY($2)
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, pq.Array(tokens), at); err != nil {
		return fmt.Errorf("failed to touch last_used: %w", err)
	}

	return nil
}
