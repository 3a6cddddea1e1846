package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BASTION_DB_PATH", filepath.Join(t.TempDir(), "bastion.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Empty(t, cfg.AdminTokenHash)

	assert.Equal(t, "block", cfg.Engine.Mode)
	assert.Equal(t, 70, cfg.Engine.EventRiskThreshold)
	assert.Equal(t, 90, cfg.Engine.CriticalRiskThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.RateLimitWindow)
	assert.Equal(t, 100, cfg.Engine.RateLimitMax)
	assert.Equal(t, 500, cfg.Engine.AggregateMax)
	assert.Equal(t, 75, cfg.Engine.EscalationThreshold)
	assert.Equal(t, 60, cfg.Engine.AutoBlockMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Engine.BlockCacheTTL)
	assert.Equal(t, 30, cfg.Engine.EventRetentionDays)
	assert.Equal(t, "@hourly", cfg.Engine.CleanupSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BASTION_DB_PATH", filepath.Join(t.TempDir(), "bastion.db"))
	t.Setenv("BASTION_MODE", "monitor")
	t.Setenv("BASTION_EVENT_RISK_THRESHOLD", "50")
	t.Setenv("BASTION_CRITICAL_RISK_THRESHOLD", "80")
	t.Setenv("BASTION_RATE_WINDOW", "30s")
	t.Setenv("BASTION_NOTIFY_URLS", "logger://")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Engine.Mode)
	assert.Equal(t, 50, cfg.Engine.EventRiskThreshold)
	assert.Equal(t, 80, cfg.Engine.CriticalRiskThreshold)
	assert.Equal(t, 30*time.Second, cfg.Engine.RateLimitWindow)
	assert.Equal(t, "logger://", cfg.NotifyURLs)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("BASTION_DB_PATH", filepath.Join(t.TempDir(), "bastion.db"))
	t.Setenv("BASTION_RATE_MAX", "lots")
	t.Setenv("BASTION_BLOCK_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Engine.RateLimitMax)
	assert.Equal(t, 5*time.Minute, cfg.Engine.BlockCacheTTL)
}

func TestLoadRejectsInvalidEngineConfig(t *testing.T) {
	t.Setenv("BASTION_DB_PATH", filepath.Join(t.TempDir(), "bastion.db"))
	t.Setenv("BASTION_MODE", "audit")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be block or monitor")
}

func TestEngineConfigValidate(t *testing.T) {
	valid := EngineConfig{
		Mode:                  "block",
		EventRiskThreshold:    70,
		CriticalRiskThreshold: 90,
		RateLimitWindow:       time.Minute,
		RateLimitMax:          100,
		AggregateMax:          500,
		EscalationThreshold:   75,
		AutoBlockMinutes:      60,
		BlockCacheTTL:         5 * time.Minute,
		EventRetentionDays:    30,
		CleanupSchedule:       "@hourly",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"unknown mode", func(e *EngineConfig) { e.Mode = "passive" }},
		{"event threshold above 100", func(e *EngineConfig) { e.EventRiskThreshold = 130 }},
		{"critical below event threshold", func(e *EngineConfig) { e.CriticalRiskThreshold = 50 }},
		{"zero rate window", func(e *EngineConfig) { e.RateLimitWindow = 0 }},
		{"zero rate ceiling", func(e *EngineConfig) { e.RateLimitMax = 0 }},
		{"negative aggregate ceiling", func(e *EngineConfig) { e.AggregateMax = -1 }},
		{"zero escalation threshold", func(e *EngineConfig) { e.EscalationThreshold = 0 }},
		{"zero block duration", func(e *EngineConfig) { e.AutoBlockMinutes = 0 }},
		{"zero cache TTL", func(e *EngineConfig) { e.BlockCacheTTL = 0 }},
		{"zero retention", func(e *EngineConfig) { e.EventRetentionDays = 0 }},
		{"empty schedule", func(e *EngineConfig) { e.CleanupSchedule = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
