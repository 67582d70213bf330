// Package config loads the Stem scheduler's runtime configuration
// from environment variables into a validated struct, following the
// teacher's env-tag Config + struct-tag validation convention (spec
// §0 ambient stack).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/go-playground/validator.v9"
)

// Config is the full set of environment-driven runtime settings.
type Config struct {
	EnvName string `env:"ENV_NAME" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" validate:"required,oneof=fatal error warn info debug"`

	InitialSurvivalBudget int64 `env:"INITIAL_SURVIVAL_BUDGET" validate:"required,gt=0"`
	ReservationTTLCycles  int64 `env:"RESERVATION_TTL_CYCLES" validate:"required,gt=0"`

	MaxCycleTime   time.Duration `env:"MAX_CYCLE_TIME_MS" validate:"required"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" validate:"required,gt=0"`
	MaxSubCalls    int           `env:"MAX_SUB_CALLS" validate:"required,gt=0"`
	GatewayRetries int           `env:"GATEWAY_RETRIES" validate:"gte=0"`

	WireSocketPath string `env:"WIRE_SOCKET_PATH" validate:"required"`
	AdminHTTPAddr  string `env:"ADMIN_HTTP_ADDR" validate:"required"`
	HealthGRPCAddr string `env:"HEALTH_GRPC_ADDR" validate:"required"`

	RedisDSN    string `env:"REDIS_DSN"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDB     string `env:"MONGO_DATABASE"`

	JWTSecret string `env:"JWT_SECRET"`

	InferenceBackendName string `env:"INFERENCE_BACKEND_NAME"`
	InferenceBackendURL  string `env:"INFERENCE_BACKEND_URL"`

	LogDir           string `env:"LOG_DIR" validate:"required"`
	LogRetentionDays int    `env:"LOG_RETENTION_DAYS" validate:"required,gt=0"`
}

// Load reads Config fields from the process environment, applying
// defaults for everything that has one, then validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		EnvName:               getenv("ENV_NAME", "development"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		InitialSurvivalBudget: getenvInt64("INITIAL_SURVIVAL_BUDGET", 1_000_000),
		ReservationTTLCycles:  getenvInt64("RESERVATION_TTL_CYCLES", 5),
		MaxCycleTime:          time.Duration(getenvInt64("MAX_CYCLE_TIME_MS", 30_000)) * time.Millisecond,
		MaxAttempts:           int(getenvInt64("MAX_ATTEMPTS", 16)),
		MaxSubCalls:           int(getenvInt64("MAX_SUB_CALLS", 1)),
		GatewayRetries:        int(getenvInt64("GATEWAY_RETRIES", 2)),
		WireSocketPath:        getenv("WIRE_SOCKET_PATH", "/tmp/stemrun.sock"),
		AdminHTTPAddr:         getenv("ADMIN_HTTP_ADDR", ":8081"),
		HealthGRPCAddr:        getenv("HEALTH_GRPC_ADDR", ":8082"),
		RedisDSN:              os.Getenv("REDIS_DSN"),
		RabbitMQURL:           os.Getenv("RABBITMQ_URL"),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDB:               getenv("MONGO_DATABASE", "stemrun_audit"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		InferenceBackendName:   getenv("INFERENCE_BACKEND_NAME", "default"),
		InferenceBackendURL:    os.Getenv("INFERENCE_BACKEND_URL"),
		LogDir:                getenv("LOG_DIR", "./logs"),
		LogRetentionDays:      int(getenvInt64("LOG_RETENTION_DAYS", 14)),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}

	return n
}
