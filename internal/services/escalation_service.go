package services

import (
	"fmt"

	"github.com/bastiond/bastion/internal/logger"
	"github.com/bastiond/bastion/internal/metrics"
	"github.com/bastiond/bastion/internal/models"
)

// severityBlockScores seed the escalation total per triggering severity.
var severityBlockScores = map[models.Severity]int{
	models.SeverityLow:      10,
	models.SeverityMedium:   25,
	models.SeverityHigh:     50,
	models.SeverityCritical: 100,
}

const recentEventWeight = 5

// EscalationService decides when accumulated events from one source
// address turn into a time-boxed block.
type EscalationService struct {
	blocks       *BlockService
	notifier     *NotificationService
	threshold    int
	blockMinutes int
}

// NewEscalationService wires the policy to the block store and notifier.
func NewEscalationService(blocks *BlockService, notifier *NotificationService, threshold, blockMinutes int) *EscalationService {
	return &EscalationService{
		blocks:       blocks,
		notifier:     notifier,
		threshold:    threshold,
		blockMinutes: blockMinutes,
	}
}

// OnThreatEvent runs the escalation policy for one freshly-recorded threat
// event. recentCount is the number of earlier events from this address in
// the trailing hour; the triggering event itself is the implicit extra and
// must not be included. Block-store failures are logged, never propagated:
// a missed escalation is retried naturally by the offender's next request.
func (s *EscalationService) OnThreatEvent(ip string, severity models.Severity, recentCount int) {
	base, ok := severityBlockScores[severity]
	if !ok {
		logger.WithComponent("escalation").WithField("severity", string(severity)).
			Warn("unknown severity, skipping escalation")
		return
	}

	total := base + recentCount*recentEventWeight
	if total < s.threshold {
		return
	}

	reason := fmt.Sprintf("Automatic block: threat score %d", total)
	entry, err := s.blocks.Block(ip, reason, s.blockMinutes)
	if err != nil {
		logger.WithComponent("escalation").WithField("ip", ip).
			Errorf("automatic block failed: %v", err)
		return
	}

	metrics.IncAutoBlock()
	logger.WithComponent("escalation").WithFields(map[string]any{
		"ip":      ip,
		"score":   total,
		"minutes": s.blockMinutes,
	}).Warn("source address automatically blocked")

	if s.notifier != nil {
		s.notifier.NotifyBlock(entry, total)
	}
}
