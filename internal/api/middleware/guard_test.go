package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bastiond/bastion/internal/config"
	"github.com/bastiond/bastion/internal/engine"
	"github.com/bastiond/bastion/internal/models"
	"github.com/bastiond/bastion/internal/services"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func guardTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SecurityEvent{}, &models.BlockedIP{}))
	return db
}

func guardTestConfig(mode string) config.EngineConfig {
	return config.EngineConfig{
		Mode:                  mode,
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
}

func guardedRouter(t *testing.T, db *gorm.DB, cfg config.EngineConfig) (*gin.Engine, *services.EventService, *services.BlockService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	events := services.NewEventService(db)
	blocks := services.NewBlockService(db, cfg.BlockCacheTTL)
	escalation := services.NewEscalationService(blocks, services.NewNotificationService(""), cfg.EscalationThreshold, cfg.AutoBlockMinutes)
	analyzer := engine.NewAnalyzer(cfg, blocks, events, escalation, engine.NewVolumeTracker(cfg.RateLimitWindow))

	r := gin.New()
	r.Use(Guard(analyzer, cfg))
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "passed")
	})
	return r, events, blocks
}

func guardRequest(r *gin.Engine, method, target, ua string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		panic(err)
	}
	req.RemoteAddr = "198.51.100.7:45678"
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGuard_PassesCleanRequests(t *testing.T) {
	r, _, _ := guardedRouter(t, guardTestDB(t), guardTestConfig("block"))

	w := guardRequest(r, "GET", "/api/products?page=2", browserUA)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "passed", w.Body.String())
}

func TestGuard_RejectsHighRiskWithTerseBody(t *testing.T) {
	r, events, _ := guardedRouter(t, guardTestDB(t), guardTestConfig("block"))

	w := guardRequest(r, "GET", "/api/admin/users?q=<script>alert(1)</script>&id=' OR 1=1", "curl/8.5.0 extended")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, `{"error":"request rejected"}`, w.Body.String(),
		"the caller learns nothing about which rule matched")

	recorded, err := events.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.EventInjectionAttempt, recorded[0].Type)
	assert.Equal(t, models.SeverityCritical, recorded[0].Severity)
}

func TestGuard_MonitorModeLogsAndAllows(t *testing.T) {
	r, events, _ := guardedRouter(t, guardTestDB(t), guardTestConfig("monitor"))

	w := guardRequest(r, "GET", "/files?name=../../etc/passwd&q=<script>alert(1)</script>", "curl/8.5.0 extended")

	assert.Equal(t, http.StatusOK, w.Code, "monitor mode never rejects on score")

	recorded, err := events.Recent(10, "")
	require.NoError(t, err)
	assert.NotEmpty(t, recorded, "events are still persisted in monitor mode")
}

func TestGuard_BlockedIPDeniedEvenInMonitorMode(t *testing.T) {
	db := guardTestDB(t)
	r, _, blocks := guardedRouter(t, db, guardTestConfig("monitor"))

	_, err := blocks.Block("198.51.100.7", "manual", 60)
	require.NoError(t, err)

	w := guardRequest(r, "GET", "/api/products", browserUA)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, `{"error":"forbidden"}`, w.Body.String())
}

func TestGuard_RateLimited(t *testing.T) {
	cfg := guardTestConfig("block")
	cfg.RateLimitMax = 2
	r, _, _ := guardedRouter(t, guardTestDB(t), cfg)

	var w *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w = guardRequest(r, "GET", "/api/products", browserUA)
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestGuard_EscalationBlocksRepeatOffender(t *testing.T) {
	r, _, blocks := guardedRouter(t, guardTestDB(t), guardTestConfig("block"))

	// A critical hit escalates straight to an automatic block.
	w := guardRequest(r, "GET", "/api/admin/users?q=<script>alert(1)</script>&id=' OR 1=1", "curl/8.5.0 extended")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	blocked, err := blocks.IsBlocked("198.51.100.7")
	require.NoError(t, err)
	assert.True(t, blocked)

	// Even a harmless follow-up request is refused now.
	w = guardRequest(r, "GET", "/api/products", browserUA)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
