package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CasdoorConfig holds the identity provider connection settings.
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// StorageConfig holds the answer sheet object storage settings.
type StorageConfig struct {
	Endpoint   string
	ServiceKey string
	Bucket     string
	// How long sheet download links stay valid.
	SignedURLTTL time.Duration
}

// GraderConfig holds the LLM grading backend settings.
type GraderConfig struct {
	APIKey      string
	Model       string
	MaxAttempts int
	BaseBackoff time.Duration
}

// WorkerConfig controls the evaluation worker pool.
type WorkerConfig struct {
	PoolSize     int
	PollInterval time.Duration
	ClaimTimeout time.Duration
	ReapInterval time.Duration
}

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaEnabled bool

	Casdoor CasdoorConfig
	Storage StorageConfig
	Grader  GraderConfig
	Worker  WorkerConfig
}

// LoadConfig reads configuration from the environment, pulling in a .env
// file first when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Casdoor: CasdoorConfig{
			Endpoint:     os.Getenv("CASDOOR_ENDPOINT"),
			ClientID:     os.Getenv("CASDOOR_CLIENT_ID"),
			ClientSecret: os.Getenv("CASDOOR_CLIENT_SECRET"),
			Cert:         os.Getenv("CASDOOR_CERT"),
			Organization: os.Getenv("CASDOOR_ORGANIZATION"),
			Application:  os.Getenv("CASDOOR_APPLICATION"),
		},
		Storage: StorageConfig{
			Endpoint:     os.Getenv("STORAGE_ENDPOINT"),
			ServiceKey:   os.Getenv("STORAGE_SERVICE_KEY"),
			Bucket:       getEnv("STORAGE_BUCKET", "answer-sheets"),
			SignedURLTTL: getDurationEnv("STORAGE_SIGNED_URL_TTL", time.Hour),
		},
		Grader: GraderConfig{
			APIKey:      os.Getenv("GEMINI_API_KEY"),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			MaxAttempts: getIntEnv("GRADER_MAX_ATTEMPTS", 3),
			BaseBackoff: getDurationEnv("GRADER_BASE_BACKOFF", 2*time.Second),
		},
		Worker: WorkerConfig{
			PoolSize:     getIntEnv("WORKER_POOL_SIZE", 4),
			PollInterval: getDurationEnv("WORKER_POLL_INTERVAL", 2*time.Second),
			ClaimTimeout: getDurationEnv("WORKER_CLAIM_TIMEOUT", 5*time.Minute),
			ReapInterval: getDurationEnv("WORKER_REAP_INTERVAL", time.Minute),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
		cfg.KafkaEnabled = true
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
