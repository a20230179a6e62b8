package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"geolock-alarm/internal/models"
)

// ErrPositionNotAvailable 表示设备尚无可用位置
var ErrPositionNotAvailable = errors.New("position not available")

// Source 设备最新位置读取器
// 位置缓存由采集侧写入 Redis，键形如 "geolock:device:<id>:position"，本服务只读
type Source struct {
	redisClient *redis.Client
	keyPrefix   string
	keySuffix   string
	logger      *zap.Logger
}

// NewSource 创建位置读取器
func NewSource(redisClient *redis.Client, keyPrefix, keySuffix string, logger *zap.Logger) *Source {
	return &Source{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		keySuffix:   keySuffix,
		logger:      logger,
	}
}

// cachedPosition 缓存中的位置数据
type cachedPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Ts  int64   `json:"ts"` // 上报时间（Unix 秒）
}

// positionKey 构建缓存键
func (s *Source) positionKey(deviceID string) string {
	return fmt.Sprintf("%s%s%s", s.keyPrefix, deviceID, s.keySuffix)
}

// GetLatestPosition 读取设备最新上报位置
// 缓存缺失返回 ErrPositionNotAvailable
func (s *Source) GetLatestPosition(ctx context.Context, deviceID string) (*models.Position, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	key := s.positionKey(deviceID)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrPositionNotAvailable
		}
		return nil, fmt.Errorf("failed to get position cache: %w", err)
	}

	var cached cachedPosition
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}

	return &models.Position{Lat: cached.Lat, Lon: cached.Lon}, nil
}
