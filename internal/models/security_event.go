package models

import (
	"time"
)

// EventType is the closed enumeration of security event categories.
// Values are stable identifiers and are never renamed after creation.
type EventType string

const (
	EventBruteForceAttempt    EventType = "BRUTE_FORCE_ATTEMPT"
	EventSuspiciousLogin      EventType = "SUSPICIOUS_LOGIN"
	EventPrivilegeEscalation  EventType = "PRIVILEGE_ESCALATION"
	EventDataExfiltration     EventType = "DATA_EXFILTRATION"
	EventInjectionAttempt     EventType = "INJECTION_ATTEMPT"
	EventMaliciousPayload     EventType = "MALICIOUS_PAYLOAD"
	EventRateLimitExceeded    EventType = "RATE_LIMIT_EXCEEDED"
	EventUnauthorizedAccess   EventType = "UNAUTHORIZED_ACCESS"
	EventSuspiciousFileAccess EventType = "SUSPICIOUS_FILE_ACCESS"
	EventAbnormalTraffic      EventType = "ABNORMAL_TRAFFIC"
	EventPotentialBot         EventType = "POTENTIAL_BOT"
	EventAdminAction          EventType = "ADMIN_ACTION"
)

// Severity orders security events from informational to incident-grade.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the position of the severity in the LOW < MEDIUM < HIGH < CRITICAL order.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the severity is one of the four known values.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// SecurityEvent is an immutable record of one detected occurrence. Events
// are created only by the analysis pipeline, never updated, and deleted
// only by the age-based retention sweep.
type SecurityEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Type      EventType `json:"type" gorm:"index"`
	Severity  Severity  `json:"severity" gorm:"index"`
	Source    string    `json:"source"` // e.g. "Middleware - /api/auth"
	IP        string    `json:"ip,omitempty" gorm:"index"`
	UserAgent string    `json:"user_agent,omitempty"`
	UserID    *uint     `json:"user_id,omitempty"`
	Details   string    `json:"details,omitempty" gorm:"type:text"` // JSON payload, display-only
	Timestamp time.Time `json:"timestamp" gorm:"index"`
}
