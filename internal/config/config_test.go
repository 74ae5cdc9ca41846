package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://verifier@localhost/verifier?sslmode=disable")
	t.Setenv("TARGET_HANDLE", "@OurBrand")
	t.Setenv("GATEWAY_URL", "http://gateway:8080")
	t.Setenv("OPERATOR_CHANNEL_ID", "-100200300")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "OurBrand", cfg.TargetHandle)
	assert.Equal(t, "verification", cfg.QueueName)
	assert.Equal(t, SessionBackendRedis, cfg.SessionBackend)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.RecognitionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, []string{"eng"}, cfg.TesseractLanguages)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_BACKEND", "Memory")
	t.Setenv("SESSION_TIMEOUT", "15m")
	t.Setenv("PROCESSING_TIMEOUT", "300000")
	t.Setenv("RECOGNITION_TIMEOUT", "45s")
	t.Setenv("TESSERACT_LANGUAGES", "eng, rus+ukr")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("PHOTO_RATE_BURST", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, SessionBackendMemory, cfg.SessionBackend)
	assert.Equal(t, 15*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 45*time.Second, cfg.RecognitionTimeout)
	assert.Equal(t, []string{"eng", "rus", "ukr"}, cfg.TesseractLanguages)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 3, cfg.PhotoRateBurst, "unparseable values fall back to the default")
}

func TestLoadConfigMissingRequired(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "TARGET_HANDLE", "GATEWAY_URL", "OPERATOR_CHANNEL_ID"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
		{"backend", func(c *Config) { c.SessionBackend = "etcd" }, "SESSION_BACKEND"},
		{"session timeout", func(c *Config) { c.SessionTimeout = 0 }, "SESSION_TIMEOUT"},
		{"recognition over processing", func(c *Config) { c.RecognitionTimeout = 10 * time.Minute }, "RECOGNITION_TIMEOUT"},
		{"evidence size", func(c *Config) { c.MaxEvidenceSize = 10 }, "MAX_EVIDENCE_SIZE"},
		{"burst", func(c *Config) { c.PhotoRateBurst = 0 }, "PHOTO_RATE_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg, err := LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
