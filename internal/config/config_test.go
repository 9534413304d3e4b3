package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg := Load()
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "tcp(127.0.0.1:3306)")
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("AI_PROVIDER", "OpenRouter")
	t.Setenv("CHAT_CONTEXT_WINDOW_SIZE", "nope")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "ai_saas.db", cfg.DBDSN)
	assert.Equal(t, 90*time.Minute, cfg.JWTTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.Equal(t, "openrouter", cfg.AIProvider)
	assert.Equal(t, 20, cfg.ChatContextWindowSize)
}
