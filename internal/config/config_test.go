package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEFAULT_MAX_VIOLATIONS", "")
	t.Setenv("LLM_TIMEOUT_SECONDS", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	assert.Equal(t, 5, cfg.DefaultMaxViolations)
	assert.Equal(t, 20*time.Second, cfg.LLMTimeout)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEFAULT_MAX_VIOLATIONS", "3")
	t.Setenv("DEFAULT_TOTAL_QUESTIONS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()

	assert.Equal(t, 3, cfg.DefaultMaxViolations)
	assert.Equal(t, 5, cfg.DefaultTotalQuestions)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "assignment:a1:monitor", CacheKey.AssignmentMonitorChannel("a1"))
	assert.Equal(t, "session:s1:lock", CacheKey.SessionLockKey("s1"))
	assert.NotEqual(t, CacheKey.SessionLockKey("s1"), CacheKey.InterviewLockKey("s1"))
}
