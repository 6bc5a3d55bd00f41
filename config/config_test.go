package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLL_VOTE_POLICY", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "replace", cfg.Poll.VotePolicy)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 60, cfg.Poll.DefaultTimer)
	assert.Equal(t, time.Hour, cfg.Poll.ActiveWindow)
	assert.Equal(t, 50, cfg.Poll.HistoryLimit)
	assert.Equal(t, "local", cfg.Poll.LockBackend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_VOTE_POLICY", "REJECT")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POLL_HISTORY_LIMIT", "500")
	t.Setenv("POLL_ACTIVE_WINDOW_MIN", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "reject", cfg.Poll.VotePolicy)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Poll.HistoryLimit, "history is capped")
	assert.Equal(t, 30*time.Minute, cfg.Poll.ActiveWindow)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("POLL_VOTE_POLICY", "merge")
	_, err := Load()
	require.Error(t, err)
}

func TestRedisLockRequiresRedis(t *testing.T) {
	t.Setenv("POLL_LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ENABLED", "false")
	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "1", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:1/d?sslmode=disable", c.DSN())
	c.URL = "postgres://x"
	assert.Equal(t, "postgres://x", c.DSN())
}
