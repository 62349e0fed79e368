package config_test

import (
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "admin", cfg.Auth.AdminRole)
	assert.Equal(t, config.DestructiveConfirm, cfg.Agent.DestructiveMode)
	assert.Equal(t, 10, cfg.Agent.HistoryWindow)
	assert.Equal(t, 20*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, time.Minute, cfg.Agent.PendingSweep)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADMINPILOT_PORT", "9090")
	t.Setenv("AGENT_DESTRUCTIVE_MODE", "Immediate")
	t.Setenv("AGENT_TOOL_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("EXPORT_S3_USE_SSL", "false")

	cfg := config.Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, config.DestructiveImmediate, cfg.Agent.DestructiveMode)
	assert.Equal(t, 5*time.Second, cfg.Agent.ToolTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
	assert.False(t, cfg.Integrations.ExportUseSSL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ADMINPILOT_PORT", "not-a-port")
	t.Setenv("AGENT_PENDING_TTL", "soon")
	t.Setenv("AGENT_DESTRUCTIVE_MODE", "yolo")

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.Agent.PendingTTL)
	assert.Equal(t, config.DestructiveConfirm, cfg.Agent.DestructiveMode)
}
