package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"geolock-alarm/internal/config"
	"geolock-alarm/internal/geofence"
	httpapi "geolock-alarm/internal/http"
	"geolock-alarm/internal/indicator"
	"geolock-alarm/internal/mqtt"
	"geolock-alarm/internal/notifier"
	"geolock-alarm/internal/repository"
	"geolock-alarm/internal/telemetry"
)

// 广播与设备指令主题模板
const (
	alertTopicPattern   = "geolock/alerts/%s"
	commandTopicPattern = "geolock/device/%s/command"
)

// GeolockService 地理锁定报警服务（整合各层）
type GeolockService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	lockRepo     *repository.LockStateRepository
	alertRepo    *repository.AlertRepository
	tokenRepo    *repository.TokenRepository
	deliveryRepo *repository.DeliveryRepository
	orchestrator *Orchestrator
	httpServer   *http.Server
}

// NewGeolockService 创建服务
func NewGeolockService(cfg *config.Config, logger *zap.Logger) (*GeolockService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&mqtt.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      cfg.MQTT.QoS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// 4. 创建 Repository 层
	lockRepo := repository.NewLockStateRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	tokenRepo := repository.NewTokenRepository(db, logger)
	deliveryRepo := repository.NewDeliveryRepository(db, logger)

	// 5. 创建外部接口适配层
	positions := telemetry.NewSource(redisClient, cfg.Cache.PositionKeyPrefix, cfg.Cache.PositionSuffix, logger)
	pushClient := notifier.NewPushClient(cfg.Push.BaseURL, cfg.Push.APIKey, cfg.Push.Timeout, logger)
	dispatcher := notifier.NewDispatcher(tokenRepo, deliveryRepo, mqttClient, pushClient, alertTopicPattern, logger)
	indicatorCtrl := indicator.NewController(mqttClient, commandTopicPattern, cfg.Indicator.PulseRepeat, cfg.Indicator.DeactivateAfter, logger)

	// 6. 创建编排器
	evaluator := geofence.NewEvaluator(cfg.Geofence.ThresholdMeters, cfg.Geofence.MediumMeters, cfg.Geofence.HighMeters)
	orchestrator := NewOrchestrator(evaluator, lockRepo, alertRepo, positions, dispatcher, indicatorCtrl, logger)

	// 7. 创建 HTTP 路由
	router := httpapi.NewRouter(logger)
	handler := httpapi.NewGeolockHandler(lockRepo, alertRepo, tokenRepo, orchestrator, logger)
	router.RegisterGeolockRoutes(handler)

	return &GeolockService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		lockRepo:     lockRepo,
		alertRepo:    alertRepo,
		tokenRepo:    tokenRepo,
		deliveryRepo: deliveryRepo,
		orchestrator: orchestrator,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		},
	}, nil
}

// Start 启动服务（HTTP 接口 + 定时评估循环），阻塞到 ctx 取消
func (s *GeolockService) Start(ctx context.Context) error {
	s.logger.Info("Starting geolock alarm service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Duration("poll_interval", s.config.Evaluation.PollInterval),
	)

	httpErrChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	ticker := time.NewTicker(s.config.Evaluation.PollInterval)
	defer ticker.Stop()

	// 立即执行一次
	if err := s.orchestrator.EvaluateAll(ctx); err != nil {
		s.logger.Error("Failed to evaluate devices on startup",
			zap.Error(err),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Evaluation loop stopped")
			return nil
		case err := <-httpErrChan:
			return fmt.Errorf("http server error: %w", err)
		case <-ticker.C:
			if err := s.orchestrator.EvaluateAll(ctx); err != nil {
				s.logger.Error("Failed to evaluate devices",
					zap.Error(err),
				)
				// 继续执行，不中断
			}
		}
	}
}

// Stop 停止服务
func (s *GeolockService) Stop() error {
	s.logger.Info("Stopping geolock alarm service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server",
			zap.Error(err),
		)
	}

	s.mqttClient.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// buildDSN 构建数据库连接字符串
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}
