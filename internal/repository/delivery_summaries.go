package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

// DeliveryRepository 分发结果仓库（delivery_summaries / token_quarantine 表）
type DeliveryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryRepository 创建分发结果仓库
func NewDeliveryRepository(db *sql.DB, logger *zap.Logger) *DeliveryRepository {
	return &DeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSummary 持久化一次分发的结果汇总，关联到触发报警
func (r *DeliveryRepository) CreateSummary(ctx context.Context, summary *models.DeliverySummary) error {
	if summary.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if summary.SummaryID == "" {
		summary.SummaryID = uuid.New().String()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO delivery_summaries (
			summary_id, alert_id, topic_sent, direct_sent,
			direct_success, direct_failure, failed_tokens, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		summary.SummaryID, summary.AlertID, summary.TopicSent, summary.DirectSent,
		summary.DirectSuccess, summary.DirectFailure,
		pq.Array(summary.FailedTokens), summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery summary: %w", err)
	}

	return nil
}

// GetSummaryByAlert 按报警 ID 查询分发汇总
func (r *DeliveryRepository) GetSummaryByAlert(ctx context.Context, alertID string) (*models.DeliverySummary, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT summary_id, alert_id, topic_sent, direct_sent,
		       direct_success, direct_failure, failed_tokens, created_at
		FROM delivery_summaries
		WHERE alert_id = $1
	`

	var summary models.DeliverySummary
	err := r.db.QueryRowContext(ctx, query, alertID).Scan(
		&summary.SummaryID, &summary.AlertID, &summary.TopicSent, &summary.DirectSent,
		&summary.DirectSuccess, &summary.DirectFailure,
		pq.Array(&summary.FailedTokens), &summary.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query delivery summary: %w", err)
	}

	return &summary, nil
}

// Quarantine 把分发失败的 token 追加到隔离表（仅记录，不自动停用）
func (r *DeliveryRepository) Quarantine(ctx context.Context, deviceID, alertID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	query := `
		INSERT INTO token_quarantine (device_id, token, alert_id, failed_at)
		SELECT $1, unnest($2::text[]), $3, $4
	`

	_, err := r.db.ExecContext(ctx, query, deviceID, pq.Array(tokens), alertID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to quarantine tokens: %w", err)
	}

	r.logger.Warn("Tokens quarantined after failed delivery",
		zap.String("device_id", deviceID),
		zap.String("alert_id", alertID),
		zap.Int("token_count", len(tokens)),
	)

	return nil
}
