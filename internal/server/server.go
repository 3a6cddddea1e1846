package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bastiond/bastion/internal/api/middleware"
	"github.com/bastiond/bastion/internal/api/routes"
	"github.com/bastiond/bastion/internal/config"
	"github.com/bastiond/bastion/internal/services"
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine      *gin.Engine
	cfg         config.Config
	maintenance *services.MaintenanceService
}

// New wires up the HTTP router, the analysis engine and the maintenance sweep.
func New(db *gorm.DB, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	dev := cfg.Environment == "development"
	if dev {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(dev),
		middleware.SecurityHeaders(dev),
	)

	deps, err := routes.Register(router, db, cfg)
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	maintenance := services.NewMaintenanceService(
		deps.Events,
		deps.Blocks,
		deps.Tracker,
		cfg.Engine.EventRetentionDays,
		cfg.Engine.CleanupSchedule,
	)

	return &Server{Engine: router, cfg: cfg, maintenance: maintenance}, nil
}

// Run starts the maintenance scheduler and the HTTP server, shutting both
// down gracefully when the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.maintenance.Start(); err != nil {
		return err
	}
	defer s.maintenance.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
