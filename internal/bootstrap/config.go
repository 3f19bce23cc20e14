package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/infra/setup"
	"github.com/lsiswin/RecyclingApi-sub001/internal/service"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DB              setup.DBConfig
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string // Redis Key 前缀
	JWTSecret       string
	ServerPort      string
	LogLevel        string
	AppEnv          string // development / production
	CORSOrigin      string
	RabbitMQURL     string // 为空时不发布集成事件
	RabbitExchange  string
	NodeID          string
	RateLimitMax    int
	RateLimitWindow time.Duration

	Chat          service.ChatOptions
	MessageRate   float64 // 每个 WebSocket 连接每秒允许的帧数
	MessageBurst  int
	SweepInterval time.Duration
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	defaults := service.DefaultChatOptions()
	cfg := &Config{
		DB: setup.DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     envOr("DB_HOST", "127.0.0.1"),
			Port:     envOr("DB_PORT", "3306"),
			Name:     envOr("DB_NAME", "recycling_chat"),
		},
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        envInt("REDIS_DB", 0),
		KeyPrefix:      envOr("REDIS_KEY_PREFIX", "recycling:"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ServerPort:     envOr("SERVER_PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		AppEnv:         envOr("APP_ENV", "development"),
		CORSOrigin:     envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		RabbitExchange: envOr("RABBITMQ_EXCHANGE", "chat.events"),
		NodeID:         os.Getenv("NODE_ID"),

		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 1)) * time.Second,

		Chat: service.ChatOptions{
			MaxSessionsPerStaff: envInt("CHAT_MAX_SESSIONS_PER_STAFF", defaults.MaxSessionsPerStaff),
			PresenceTTL:         time.Duration(envInt("CHAT_PRESENCE_TTL_SECONDS", int(defaults.PresenceTTL/time.Second))) * time.Second,
			IdleTimeout:         time.Duration(envInt("CHAT_SESSION_IDLE_MINUTES", int(defaults.IdleTimeout/time.Minute))) * time.Minute,
			HistoryLimit:        defaults.HistoryLimit,
			MaxMessageLength:    envInt("CHAT_MESSAGE_MAX_LENGTH", defaults.MaxMessageLength),
		},
		MessageRate:   envFloat("CHAT_MESSAGE_RATE", 5),
		MessageBurst:  envInt("CHAT_MESSAGE_BURST", 10),
		SweepInterval: time.Duration(envInt("CHAT_SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.NodeID == "" {
		host, _ := os.Hostname()
		cfg.NodeID = host + "-" + strconv.Itoa(os.Getpid())
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Second
	}
	if cfg.SweepInterval < time.Second {
		cfg.SweepInterval = 30 * time.Second
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt 读取整数变量，缺失或格式错误时返回默认值
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %g", key, v, fallback)
		return fallback
	}
	return f
}
