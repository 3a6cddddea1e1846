package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/bastiond/bastion/internal/api/handlers"
	"github.com/bastiond/bastion/internal/api/middleware"
	"github.com/bastiond/bastion/internal/config"
	"github.com/bastiond/bastion/internal/engine"
	"github.com/bastiond/bastion/internal/metrics"
	"github.com/bastiond/bastion/internal/models"
	"github.com/bastiond/bastion/internal/services"
)

// Deps are the engine components built during route registration, returned
// so the caller can wire the maintenance sweep over the same instances.
type Deps struct {
	Events  *services.EventService
	Blocks  *services.BlockService
	Tracker *engine.VolumeTracker
}

// Register wires up the analysis engine, the guard middleware and the
// admin API, and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Deps, error) {
	if err := db.AutoMigrate(
		&models.SecurityEvent{},
		&models.BlockedIP{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	events := services.NewEventService(db)
	blocks := services.NewBlockService(db, cfg.Engine.BlockCacheTTL)
	notifier := services.NewNotificationService(cfg.NotifyURLs)
	escalation := services.NewEscalationService(blocks, notifier, cfg.Engine.EscalationThreshold, cfg.Engine.AutoBlockMinutes)
	tracker := engine.NewVolumeTracker(cfg.Engine.RateLimitWindow)
	analyzer := engine.NewAnalyzer(cfg.Engine, blocks, events, escalation, tracker)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// The guard runs on every route registered below, admin API included.
	router.Use(middleware.Guard(analyzer, cfg.Engine))

	router.GET("/api/v1/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	securityHandler := handlers.NewSecurityHandler(events, blocks)

	admin := router.Group("/api/v1/security")
	admin.Use(middleware.AdminAuth(cfg.AdminTokenHash))
	{
		admin.GET("/stats", securityHandler.GetStats)
		admin.GET("/events", securityHandler.GetEvents)
		admin.GET("/blocked-ips", securityHandler.GetBlockedIPs)
		admin.POST("/blocked-ips", securityHandler.BlockIP)
		admin.DELETE("/blocked-ips/:ip", securityHandler.UnblockIP)
	}

	return &Deps{Events: events, Blocks: blocks, Tracker: tracker}, nil
}
