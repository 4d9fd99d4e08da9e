package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// RedisConfig holds distributed store configuration.
type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password       string        `envconfig:"REDIS_PASSWORD" default:""`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	OpTimeout      time.Duration `envconfig:"REDIS_OP_TIMEOUT" default:"2s"`
	ConnectRetries uint64        `envconfig:"REDIS_CONNECT_RETRIES" default:"5"`
}

// TracingConfig holds tracing engine configuration.
type TracingConfig struct {
	ServiceName      string        `envconfig:"TRACING_SERVICE" default:"opsconductor"`
	SamplingRate     float64       `envconfig:"TRACING_SAMPLING_RATE" default:"1.0"`
	MaxTraceDuration time.Duration `envconfig:"TRACING_MAX_TRACE_DURATION" default:"1h"`
	CleanupInterval  time.Duration `envconfig:"TRACING_CLEANUP_INTERVAL" default:"5m"`
	ExportInterval   time.Duration `envconfig:"TRACING_EXPORT_INTERVAL" default:"1m"`
}

// RateLimitConfig holds rate limit engine configuration.
type RateLimitConfig struct {
	Enabled    bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	LocalRPS   int  `envconfig:"RATE_LIMIT_LOCAL_RPS" default:"1000"`
	LocalBurst int  `envconfig:"RATE_LIMIT_LOCAL_BURST" default:"2000"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DB:             0,
			OpTimeout:      2 * time.Second,
			ConnectRetries: 5,
		},
		Tracing: TracingConfig{
			ServiceName:      "opsconductor",
			SamplingRate:     1.0,
			MaxTraceDuration: time.Hour,
			CleanupInterval:  5 * time.Minute,
			ExportInterval:   time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			LocalRPS:   1000,
			LocalBurst: 2000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
