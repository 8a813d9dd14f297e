package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "gemini", cfg.LLM.DefaultProvider)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.False(t, cfg.Queue.AsyncOutcomes)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("WEBHOOK_URLS", "https://a.example/hook, ,https://b.example/hook")
	t.Setenv("QUEUE_ASYNC_OUTCOMES", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, cfg.Webhook.URLs)
	assert.True(t, cfg.Queue.AsyncOutcomes)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-file\nSERVER_PORT=7070\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("SERVER_PORT", "6060")
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Server.Port, "process env wins over .env")
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "eighty")

	_, err := Load()
	assert.ErrorContains(t, err, "invalid SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Queue.AsyncOutcomes = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "REDIS_ADDR")
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.Auth.JWTSecret = "s"
	cfg.Redis.Addr = "localhost:6379"
	err = cfg.Validate()
	require.Error(t, err, "async outcomes need a database the worker can reach")
	assert.Contains(t, err.Error(), "DATABASE_URL")

	cfg.Database.URL = "postgres://localhost/promptops"
	assert.NoError(t, cfg.Validate())

	cfg.Queue.AsyncOutcomes = false
	cfg.Database.URL = ""
	assert.NoError(t, cfg.Validate(), "the memory store is fine when outcomes are recorded inline")
}
