package config

import (
	"os"
	"strconv"
	"time"
)

// Config 服务配置（显式注入，组件不读取全局环境变量）
type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		QoS      byte
	}

	// 推送网关（direct 渠道的批量推送）
	Push struct {
		BaseURL string
		APIKey  string
		Timeout time.Duration
	}

	Geofence struct {
		ThresholdMeters float64 // 安全半径，超出即报警
		MediumMeters    float64 // medium 级别下限
		HighMeters      float64 // high 级别下限
	}

	Indicator struct {
		PulseRepeat     int           // 指示器脉冲次数
		DeactivateAfter time.Duration // 自动关闭延迟
	}

	Evaluation struct {
		PollInterval time.Duration // 定时评估间隔
	}

	Cache struct {
		PositionKeyPrefix string // 最新位置缓存键前缀，如 "geolock:device:"
		PositionSuffix    string // 最新位置缓存键后缀，如 ":position"
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "geolock")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "geolock-alarm")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Push.BaseURL = getEnv("PUSH_BASE_URL", "http://localhost:9090")
	cfg.Push.APIKey = getEnv("PUSH_API_KEY", "")
	cfg.Push.Timeout = 10 * time.Second

	cfg.Geofence.ThresholdMeters = getEnvFloat("GEOFENCE_THRESHOLD_METERS", 10)
	cfg.Geofence.MediumMeters = 25
	cfg.Geofence.HighMeters = 50

	cfg.Indicator.PulseRepeat = 5
	cfg.Indicator.DeactivateAfter = time.Duration(getEnvInt("INDICATOR_DEACTIVATE_SEC", 60)) * time.Second

	cfg.Evaluation.PollInterval = time.Duration(getEnvInt("POLL_INTERVAL_SEC", 30)) * time.Second

	cfg.Cache.PositionKeyPrefix = getEnv("CACHE_POSITION_PREFIX", "geolock:device:")
	cfg.Cache.PositionSuffix = ":position"

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
