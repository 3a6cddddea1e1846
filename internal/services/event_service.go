package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bastiond/bastion/internal/models"
)

var (
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrMissingType     = errors.New("event type required")
)

// severityBaseScores anchor the derived display-time risk score.
var severityBaseScores = map[models.Severity]float64{
	models.SeverityLow:      20,
	models.SeverityMedium:   40,
	models.SeverityHigh:     70,
	models.SeverityCritical: 100,
}

// typeMultipliers boost event families that historically precede real
// incidents. Unlisted types multiply by 1.0.
var typeMultipliers = map[models.EventType]float64{
	models.EventInjectionAttempt:    1.5,
	models.EventBruteForceAttempt:   1.3,
	models.EventPrivilegeEscalation: 1.4,
	models.EventMaliciousPayload:    1.5,
}

// EventService is the durable, queryable store of security events.
type EventService struct {
	db *gorm.DB
}

// NewEventService returns an EventService using the provided DB.
func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db}
}

// Append durably persists one event. Events are immutable: the service
// fills identity and timestamp once and nothing ever updates the row.
func (s *EventService) Append(event *models.SecurityEvent) error {
	if event == nil {
		return nil
	}
	if event.Type == "" {
		return ErrMissingType
	}
	if !event.Severity.Valid() {
		return ErrInvalidSeverity
	}
	if event.UUID == "" {
		event.UUID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return s.db.Create(event).Error
}

// EventWithRisk annotates a stored event with its derived risk score for
// display and sorting. This score is distinct from the request-time score.
type EventWithRisk struct {
	models.SecurityEvent
	RiskScore int `json:"risk_score"`
}

// Recent returns the newest events first, optionally filtered by severity.
func (s *EventService) Recent(limit int, severity models.Severity) ([]EventWithRisk, error) {
	q := s.db.Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if severity != "" {
		if !severity.Valid() {
			return nil, ErrInvalidSeverity
		}
		q = q.Where("severity = ?", severity)
	}

	var events []models.SecurityEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}

	out := make([]EventWithRisk, 0, len(events))
	for _, event := range events {
		out = append(out, EventWithRisk{
			SecurityEvent: event,
			RiskScore:     DerivedRiskScore(event.Severity, event.Type),
		})
	}
	return out, nil
}

// DerivedRiskScore computes the display-time score of a stored event from
// its severity base and type multiplier, clamped to 100.
func DerivedRiskScore(severity models.Severity, eventType models.EventType) int {
	base, ok := severityBaseScores[severity]
	if !ok {
		return 0
	}
	mult, ok := typeMultipliers[eventType]
	if !ok {
		mult = 1.0
	}
	score := int(base * mult)
	if score > 100 {
		score = 100
	}
	return score
}

// TypeCount pairs an event type with its occurrence count.
type TypeCount struct {
	Type  models.EventType `json:"type"`
	Count int64            `json:"count"`
}

// EventStats aggregates the event log for the admin console.
type EventStats struct {
	TotalEvents          int64                     `json:"total_events"`
	EventsInWindow       int64                     `json:"events_in_window"`
	SeverityDistribution map[models.Severity]int64 `json:"severity_distribution"`
	TopThreatTypes       []TypeCount               `json:"top_threat_types"`
}

// Stats returns aggregate statistics over the trailing window. The
// severity distribution always contains all four severities, zero-filled.
func (s *EventService) Stats(window time.Duration) (*EventStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := time.Now().Add(-window)

	stats := &EventStats{
		SeverityDistribution: map[models.Severity]int64{
			models.SeverityLow:      0,
			models.SeverityMedium:   0,
			models.SeverityHigh:     0,
			models.SeverityCritical: 0,
		},
	}

	if err := s.db.Model(&models.SecurityEvent{}).Count(&stats.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := s.db.Model(&models.SecurityEvent{}).Where("timestamp > ?", cutoff).
		Count(&stats.EventsInWindow).Error; err != nil {
		return nil, fmt.Errorf("count events in window: %w", err)
	}

	var severities []struct {
		Severity models.Severity
		Count    int64
	}
	if err := s.db.Model(&models.SecurityEvent{}).
		Select("severity, count(*) as count").
		Where("timestamp > ?", cutoff).
		Group("severity").
		Scan(&severities).Error; err != nil {
		return nil, fmt.Errorf("severity distribution: %w", err)
	}
	for _, row := range severities {
		stats.SeverityDistribution[row.Severity] = row.Count
	}

	var types []struct {
		Type  models.EventType
		Count int64
	}
	if err := s.db.Model(&models.SecurityEvent{}).
		Select("type, count(*) as count").
		Where("timestamp > ?", cutoff).
		Group("type").
		Order("count desc").
		Limit(5).
		Scan(&types).Error; err != nil {
		return nil, fmt.Errorf("top threat types: %w", err)
	}
	for _, row := range types {
		stats.TopThreatTypes = append(stats.TopThreatTypes, TypeCount{Type: row.Type, Count: row.Count})
	}

	return stats, nil
}

// CountRecentByIP counts events attributed to the source address since the
// given time. The escalation policy treats the triggering event as an
// implicit extra, so callers query before appending it.
func (s *EventService) CountRecentByIP(ip string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("ip = ? AND timestamp > ?", ip, since).
		Count(&count).Error
	return count, err
}

// Cleanup bulk-deletes events older than the retention cutoff and returns
// the number of rows removed. Intended for the scheduled sweep, not the
// request path.
func (s *EventService) Cleanup(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.SecurityEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
