package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string

	// AdminTokenHash is the bcrypt hash of the bearer token that protects
	// the admin API. Empty disables the admin surface entirely.
	AdminTokenHash string

	// NotifyURLs is a comma-separated list of shoutrrr destinations that
	// receive an alert whenever an automatic block is created.
	NotifyURLs string

	Engine EngineConfig
}

// EngineConfig holds the thresholds and windows of the analysis engine.
// Invalid values abort startup; the hot path never re-validates them.
type EngineConfig struct {
	// Mode is "block" (enforce decisions) or "monitor" (log only).
	Mode string

	// EventRiskThreshold is the request risk score above which a
	// security event is persisted.
	EventRiskThreshold int
	// CriticalRiskThreshold is the score above which an event is
	// recorded as CRITICAL rather than HIGH.
	CriticalRiskThreshold int

	// RateLimitWindow is the sliding window of the per-path counter.
	RateLimitWindow time.Duration
	// RateLimitMax is the per (ip, path) request ceiling inside the window.
	RateLimitMax int
	// AggregateMax is the all-paths ceiling per source address.
	AggregateMax int

	// EscalationThreshold is the accumulated threat score at which a
	// source address is automatically blocked.
	EscalationThreshold int
	// AutoBlockMinutes is the duration of an automatic block.
	AutoBlockMinutes int

	// BlockCacheTTL bounds the staleness of the in-memory block cache.
	BlockCacheTTL time.Duration

	// EventRetentionDays controls the age-based event cleanup.
	EventRetentionDays int
	// CleanupSchedule is a cron expression for the maintenance sweep.
	CleanupSchedule string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:    getEnv("BASTION_ENV", "development"),
		HTTPPort:       getEnv("BASTION_HTTP_PORT", "8080"),
		DatabasePath:   getEnv("BASTION_DB_PATH", filepath.Join("data", "bastion.db")),
		AdminTokenHash: getEnv("BASTION_ADMIN_TOKEN_HASH", ""),
		NotifyURLs:     getEnv("BASTION_NOTIFY_URLS", ""),
		Engine: EngineConfig{
			Mode:                  getEnv("BASTION_MODE", "block"),
			EventRiskThreshold:    getEnvInt("BASTION_EVENT_RISK_THRESHOLD", 70),
			CriticalRiskThreshold: getEnvInt("BASTION_CRITICAL_RISK_THRESHOLD", 90),
			RateLimitWindow:       getEnvDuration("BASTION_RATE_WINDOW", time.Minute),
			RateLimitMax:          getEnvInt("BASTION_RATE_MAX", 100),
			AggregateMax:          getEnvInt("BASTION_AGGREGATE_MAX", 500),
			EscalationThreshold:   getEnvInt("BASTION_ESCALATION_THRESHOLD", 75),
			AutoBlockMinutes:      getEnvInt("BASTION_AUTO_BLOCK_MINUTES", 60),
			BlockCacheTTL:         getEnvDuration("BASTION_BLOCK_CACHE_TTL", 5*time.Minute),
			EventRetentionDays:    getEnvInt("BASTION_EVENT_RETENTION_DAYS", 30),
			CleanupSchedule:       getEnv("BASTION_CLEANUP_SCHEDULE", "@hourly"),
		},
	}

	if err := cfg.Engine.Validate(); err != nil {
		return Config{}, fmt.Errorf("engine config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// Validate fails fast on unusable thresholds instead of misbehaving per-request.
func (e EngineConfig) Validate() error {
	if e.Mode != "block" && e.Mode != "monitor" {
		return fmt.Errorf("mode must be block or monitor, got %q", e.Mode)
	}
	if e.EventRiskThreshold < 0 || e.EventRiskThreshold > 100 {
		return fmt.Errorf("event risk threshold %d outside [0,100]", e.EventRiskThreshold)
	}
	if e.CriticalRiskThreshold < e.EventRiskThreshold || e.CriticalRiskThreshold > 100 {
		return fmt.Errorf("critical risk threshold %d outside [%d,100]", e.CriticalRiskThreshold, e.EventRiskThreshold)
	}
	if e.RateLimitWindow <= 0 {
		return fmt.Errorf("rate window must be positive, got %s", e.RateLimitWindow)
	}
	if e.RateLimitMax <= 0 || e.AggregateMax <= 0 {
		return fmt.Errorf("rate ceilings must be positive, got %d and %d", e.RateLimitMax, e.AggregateMax)
	}
	if e.EscalationThreshold <= 0 {
		return fmt.Errorf("escalation threshold must be positive, got %d", e.EscalationThreshold)
	}
	if e.AutoBlockMinutes <= 0 {
		return fmt.Errorf("auto block minutes must be positive, got %d", e.AutoBlockMinutes)
	}
	if e.BlockCacheTTL <= 0 {
		return fmt.Errorf("block cache TTL must be positive, got %s", e.BlockCacheTTL)
	}
	if e.EventRetentionDays <= 0 {
		return fmt.Errorf("event retention days must be positive, got %d", e.EventRetentionDays)
	}
	if e.CleanupSchedule == "" {
		return fmt.Errorf("cleanup schedule must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}

	return fallback
}
