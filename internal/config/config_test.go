package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "workflows", cfg.QueueName)
	assert.Equal(t, 1, cfg.WorkerConcurrency)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.ShutdownTimeout)
	assert.Equal(t, "kiroku", cfg.AutoResolveLabel)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KIROKU_PORT", "9090")
	t.Setenv("KIROKU_QUEUE_NAME", "priority")
	t.Setenv("KIROKU_WORKER_CONCURRENCY", "4")
	t.Setenv("KIROKU_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "priority", cfg.QueueName)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("KIROKU_PORT", "not-a-number")
	t.Setenv("KIROKU_POLL_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:         "postgres://localhost/kiroku",
		QueueName:           "workflows",
		WorkerConcurrency:   1,
		ShutdownTimeout:     time.Hour,
		MaxRequestBodyBytes: 1024,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"empty queue name", func(c *Config) { c.QueueName = "" }},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{"zero max body", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
