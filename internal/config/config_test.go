package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"env": "test",
		"port": 9090,
		"app_name": "crucible",
		"services": {
			"quality_gate_url": "http://gate:8090",
			"request_timeout": 10,
			"poll_interval": 2,
			"max_poll_wait": 60
		},
		"storage": {
			"jobs_dir": "data/jobs",
			"results_dir": "data/results"
		},
		"jobs": {
			"default_max_parallel": 8,
			"max_list_limit": 50
		},
		"redis": {
			"enabled": true,
			"address": "redis:6379",
			"prefix": "crucible",
			"ttl": 120
		},
		"cors": {
			"allowed_origins": ["http://localhost:3000"]
		}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://gate:8090", cfg.Services.QualityGateURL)
	assert.Equal(t, 2, cfg.Services.PollInterval)
	assert.Equal(t, "data/jobs", cfg.Storage.JobsDir)
	assert.Equal(t, 8, cfg.Jobs.DefaultMaxParallel)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"env": "test", "port": 8080}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Services.RequestTimeout)
	assert.Equal(t, 5, cfg.Services.PollInterval)
	assert.Equal(t, 300, cfg.Services.MaxPollWait)
	assert.Equal(t, 4, cfg.Jobs.DefaultMaxParallel)
	assert.Equal(t, 100, cfg.Jobs.MaxListLimit)
	assert.Equal(t, 256, cfg.WebSocket.QueueSize)
	assert.Equal(t, 250, cfg.WebSocket.PublishTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := writeConfig(t, "{not json")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
