package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	liststrings "opsflow/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Workflow WorkflowConfig
	Limits   RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	JWTIssuer       string
	AdminToken      string
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects postgres when URL is set; otherwise stores are in-memory.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	AuditTopic    string
	RelayInterval time.Duration
}

// WorkflowConfig tunes approval routing and side-effect delivery.
type WorkflowConfig struct {
	FinanceThresholdCents int64
	NotificationChannel   string
	DispatchInterval      time.Duration
}

// RateLimitConfig is the per-actor budget for authenticated routes. Zero
// disables a class.
type RateLimitConfig struct {
	ReadRequests  int
	WriteRequests int
	Window        time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("OPSFLOW_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Server: Server{
			Addr:            envOr("OPSFLOW_ADDR", ":8080"),
			JWTSigningKey:   jwtSigningKey,
			JWTIssuer:       envOr("OPSFLOW_JWT_ISSUER", "opsflow"),
			AdminToken:      os.Getenv("OPSFLOW_ADMIN_TOKEN"),
			LogLevel:        parseLevel(os.Getenv("OPSFLOW_LOG_LEVEL")),
			ShutdownTimeout: envDuration("OPSFLOW_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("OPSFLOW_DATABASE_URL"),
			MaxOpenConns: envInt("OPSFLOW_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: envInt("OPSFLOW_DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("OPSFLOW_REDIS_URL"),
			PoolSize:     envInt("OPSFLOW_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("OPSFLOW_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("OPSFLOW_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("OPSFLOW_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("OPSFLOW_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       liststrings.SplitList(os.Getenv("OPSFLOW_KAFKA_BROKERS")),
			ClientID:      envOr("OPSFLOW_KAFKA_CLIENT_ID", "opsflow"),
			AuditTopic:    envOr("OPSFLOW_AUDIT_TOPIC", "opsflow.audit"),
			RelayInterval: envDuration("OPSFLOW_AUDIT_RELAY_INTERVAL", time.Second),
		},
		Workflow: WorkflowConfig{
			FinanceThresholdCents: int64(envInt("OPSFLOW_FINANCE_THRESHOLD_CENTS", 100_000)),
			NotificationChannel:   envOr("OPSFLOW_NOTIFICATION_CHANNEL", "opsflow:notifications"),
			DispatchInterval:      envDuration("OPSFLOW_NOTIFICATION_RETRY_INTERVAL", 30*time.Second),
		},
		Limits: RateLimitConfig{
			ReadRequests:  envInt("OPSFLOW_RATELIMIT_READ", 300),
			WriteRequests: envInt("OPSFLOW_RATELIMIT_WRITE", 60),
			Window:        envDuration("OPSFLOW_RATELIMIT_WINDOW", time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseLevel(raw string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
