/**
 * Configuration for the Follow Verification Worker
 *
 * Loads configuration from environment variables matching .env.verifier
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue, session store, decision events)
	RedisURL      string
	QueueName     string
	EventsChannel string

	// PostgreSQL configuration
	DatabaseURL string

	// Bot gateway
	GatewayURL        string
	OperatorChannelID string

	// Verification target account, without the leading "@"
	TargetHandle string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout time.Duration

	// Session configuration
	SessionBackend string
	SessionTimeout time.Duration
	SweepInterval  time.Duration

	// Recognition configuration
	RecognitionTimeout time.Duration
	TesseractLanguages []string
	MaxEvidenceSize    int64

	// Per-user photo rate limit
	PhotoRateInterval time.Duration
	PhotoRateBurst    int

	// Logging
	LogLevel string
	AppEnv   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "verification"),
		EventsChannel:      getEnvOrDefault("EVENTS_CHANNEL", "verification:decisions"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GatewayURL:         os.Getenv("GATEWAY_URL"),
		OperatorChannelID:  os.Getenv("OPERATOR_CHANNEL_ID"),
		TargetHandle:       strings.TrimPrefix(strings.TrimSpace(os.Getenv("TARGET_HANDLE")), "@"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout:  getEnvAsDurationOrDefault("PROCESSING_TIMEOUT", 5*time.Minute),
		SessionBackend:     strings.ToLower(getEnvOrDefault("SESSION_BACKEND", SessionBackendRedis)),
		SessionTimeout:     getEnvAsDurationOrDefault("SESSION_TIMEOUT", 10*time.Minute),
		SweepInterval:      getEnvAsDurationOrDefault("SWEEP_INTERVAL", 5*time.Minute),
		RecognitionTimeout: getEnvAsDurationOrDefault("RECOGNITION_TIMEOUT", 60*time.Second),
		TesseractLanguages: getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng"}),
		MaxEvidenceSize:    getEnvAsInt64OrDefault("MAX_EVIDENCE_SIZE", 20971520), // 20MB
		PhotoRateInterval:  getEnvAsDurationOrDefault("PHOTO_RATE_INTERVAL", 10*time.Second),
		PhotoRateBurst:     getEnvAsIntOrDefault("PHOTO_RATE_BURST", 3),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		AppEnv:             getEnvOrDefault("APP_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.TargetHandle == "" {
		return fmt.Errorf("TARGET_HANDLE is required")
	}

	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}

	if c.OperatorChannelID == "" {
		return fmt.Errorf("OPERATOR_CHANNEL_ID is required")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.SessionBackend != SessionBackendMemory && c.SessionBackend != SessionBackendRedis {
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q",
			SessionBackendMemory, SessionBackendRedis, c.SessionBackend)
	}

	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.SessionTimeout)
	}

	if c.RecognitionTimeout <= 0 || c.RecognitionTimeout > c.ProcessingTimeout {
		return fmt.Errorf("RECOGNITION_TIMEOUT must be positive and at most PROCESSING_TIMEOUT (%s), got %s",
			c.ProcessingTimeout, c.RecognitionTimeout)
	}

	if c.MaxEvidenceSize < 1024 || c.MaxEvidenceSize > 104857600 { // 1KB to 100MB
		return fmt.Errorf("MAX_EVIDENCE_SIZE must be between 1KB and 100MB, got %d", c.MaxEvidenceSize)
	}

	if c.PhotoRateBurst < 1 {
		return fmt.Errorf("PHOTO_RATE_BURST must be at least 1, got %d", c.PhotoRateBurst)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or bare
// milliseconds ("300000")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma or plus separated list
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	fields := strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == '+'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
