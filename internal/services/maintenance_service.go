package services

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/bastiond/bastion/internal/engine"
	"github.com/bastiond/bastion/internal/logger"
)

// MaintenanceService runs the periodic retention and expiry sweeps on a
// cron schedule, off the request path.
type MaintenanceService struct {
	cron          *cron.Cron
	events        *EventService
	blocks        *BlockService
	tracker       *engine.VolumeTracker
	retentionDays int
	schedule      string
}

// NewMaintenanceService wires the sweep over the stores and the tracker.
func NewMaintenanceService(events *EventService, blocks *BlockService, tracker *engine.VolumeTracker, retentionDays int, schedule string) *MaintenanceService {
	return &MaintenanceService{
		cron:          cron.New(),
		events:        events,
		blocks:        blocks,
		tracker:       tracker,
		retentionDays: retentionDays,
		schedule:      schedule,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *MaintenanceService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("schedule maintenance sweep: %w", err)
	}
	s.cron.Start()
	logger.WithComponent("maintenance").WithField("schedule", s.schedule).Info("maintenance sweep scheduled")
	return nil
}

// Stop halts the scheduler; a running sweep finishes first.
func (s *MaintenanceService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep applies event retention, block expiry and counter pruning.
// Each step is independent; one failing never skips the others.
func (s *MaintenanceService) Sweep() {
	log := logger.WithComponent("maintenance")

	deleted, err := s.events.Cleanup(s.retentionDays)
	if err != nil {
		log.Errorf("event retention cleanup failed: %v", err)
	} else if deleted > 0 {
		log.WithField("deleted", deleted).Info("expired security events removed")
	}

	expired, err := s.blocks.CleanupExpired()
	if err != nil {
		log.Errorf("block expiry sweep failed: %v", err)
	} else if expired > 0 {
		log.WithField("expired", expired).Info("expired IP blocks deactivated")
	}

	if s.tracker != nil {
		if pruned := s.tracker.Prune(); pruned > 0 {
			log.WithField("pruned", pruned).Debug("stale volume counters pruned")
		}
	}
}
