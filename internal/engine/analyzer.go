package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bastiond/bastion/internal/config"
	"github.com/bastiond/bastion/internal/logger"
	"github.com/bastiond/bastion/internal/metrics"
	"github.com/bastiond/bastion/internal/models"
)

// EventRecorder is the slice of the event store the analyzer needs.
type EventRecorder interface {
	Append(event *models.SecurityEvent) error
	CountRecentByIP(ip string, since time.Time) (int64, error)
}

// BlockChecker answers the hot-path "is this address already blocked" question.
type BlockChecker interface {
	IsBlocked(ip string) (bool, error)
}

// EscalationPolicy converts repeated or severe events from one source
// address into a time-boxed block.
type EscalationPolicy interface {
	OnThreatEvent(ip string, severity models.Severity, recentCount int)
}

// Decision is the analysis result returned to the request-handling layer.
type Decision struct {
	IP        string   `json:"ip"`
	UserAgent string   `json:"user_agent"`
	Path      string   `json:"pathname"`
	Method    string   `json:"method"`
	IsBlocked bool     `json:"is_blocked"`
	RiskScore int      `json:"risk_score"`
	Threats   []Threat `json:"threats"`
}

// RateLimited reports whether the decision carries a volume-based tag.
func (d *Decision) RateLimited() bool {
	for _, t := range d.Threats {
		if t == ThreatRateLimitExceeded || t == ThreatAbnormalTraffic {
			return true
		}
	}
	return false
}

// Response is the HTTP shape for a rejected request. Bodies stay terse so
// callers learn nothing about which rule matched.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       map[string]string
}

// Analyzer composes the signature library, scorer, volume tracker, event
// store and escalation policy into the per-request pipeline.
type Analyzer struct {
	cfg        config.EngineConfig
	blocks     BlockChecker
	events     EventRecorder
	escalation EscalationPolicy
	tracker    *VolumeTracker
}

// NewAnalyzer wires an analyzer from explicitly-constructed collaborators.
func NewAnalyzer(cfg config.EngineConfig, blocks BlockChecker, events EventRecorder, escalation EscalationPolicy, tracker *VolumeTracker) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		blocks:     blocks,
		events:     events,
		escalation: escalation,
		tracker:    tracker,
	}
}

// Analyze inspects one inbound request and returns a decision. Only a
// block-list hit can deny the request outright; every other failure inside
// the pipeline is logged and treated as no additional signal.
func (a *Analyzer) Analyze(r *http.Request) Decision {
	metrics.IncAnalyzed()

	ip := ResolveSourceIP(r)
	sig := &RequestSignals{
		Method:    r.Method,
		Target:    r.URL.RequestURI(),
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}

	decision := Decision{
		IP:        ip,
		UserAgent: sig.UserAgent,
		Path:      sig.Path,
		Method:    sig.Method,
	}

	blocked, err := a.blocks.IsBlocked(ip)
	if err != nil {
		logger.WithComponent("analyzer").WithField("ip", ip).
			Errorf("block lookup failed, treating as not blocked: %v", err)
	}
	if blocked {
		metrics.IncBlocked()
		decision.IsBlocked = true
		decision.RiskScore = maxRiskScore
		decision.Threats = []Threat{ThreatBlockedIP}
		return decision
	}

	volumeThreats := a.trackVolume(ip, sig)

	threats := MatchSignatures(sig)
	score := Score(threats, sig.Method, sig.Path)

	if score > a.cfg.EventRiskThreshold {
		a.recordThreat(ip, sig, threats, score)
	}

	decision.RiskScore = score
	decision.Threats = append(threats, volumeThreats...)
	return decision
}

// trackVolume records the request in the sliding-window counters and
// persists rate/volume events when ceilings are crossed.
func (a *Analyzer) trackVolume(ip string, sig *RequestSignals) []Threat {
	var threats []Threat

	count := a.tracker.Record(ip, sig.Path)
	if count > a.cfg.RateLimitMax && !isAuthEndpoint(sig.Path) {
		// Auth endpoints are excluded: the upstream login-lockout
		// mechanism owns brute-force detection there.
		metrics.IncRateLimited()
		threats = append(threats, ThreatRateLimitExceeded)
		a.appendEvent(&models.SecurityEvent{
			Type:      models.EventRateLimitExceeded,
			Severity:  models.SeverityMedium,
			Source:    "Middleware - " + sig.Path,
			IP:        ip,
			UserAgent: sig.UserAgent,
			Details:   marshalDetails(map[string]any{"count": count, "window_seconds": int(a.cfg.RateLimitWindow.Seconds()), "path": sig.Path}),
		})
	}

	if agg := a.tracker.AggregateVolume(ip); agg > a.cfg.AggregateMax {
		metrics.IncRateLimited()
		threats = append(threats, ThreatAbnormalTraffic)
		a.appendEvent(&models.SecurityEvent{
			Type:      models.EventAbnormalTraffic,
			Severity:  models.SeverityHigh,
			Source:    "Middleware - " + sig.Path,
			IP:        ip,
			UserAgent: sig.UserAgent,
			Details:   marshalDetails(map[string]any{"aggregate": agg, "path": sig.Path}),
		})
	}

	return threats
}

// recordThreat persists one event for a high-risk request and runs the
// escalation policy for blocking-intent families.
func (a *Analyzer) recordThreat(ip string, sig *RequestSignals, threats []Threat, score int) {
	if isAuthEndpoint(sig.Path) {
		// Suppressed: the dedicated brute-force pathway upstream must not
		// double-fire with this engine on auth endpoints.
		return
	}

	eventType := dominantEventType(threats)
	severity := models.SeverityHigh
	if score > a.cfg.CriticalRiskThreshold {
		severity = models.SeverityCritical
	}

	recent, err := a.events.CountRecentByIP(ip, time.Now().Add(-time.Hour))
	if err != nil {
		logger.WithComponent("analyzer").WithField("ip", ip).
			Errorf("recent event count failed, assuming zero: %v", err)
		recent = 0
	}

	appended := a.appendEvent(&models.SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		Source:    "Middleware - " + sig.Path,
		IP:        ip,
		UserAgent: sig.UserAgent,
		Details: marshalDetails(map[string]any{
			"url":        sig.Target,
			"method":     sig.Method,
			"threats":    threats,
			"risk_score": score,
		}),
	})

	if appended && blockingEventTypes[eventType] {
		a.escalation.OnThreatEvent(ip, severity, int(recent))
	}
}

// appendEvent persists an event, logging and swallowing store errors so the
// security log never becomes an availability dependency of the caller.
func (a *Analyzer) appendEvent(event *models.SecurityEvent) bool {
	if err := a.events.Append(event); err != nil {
		logger.WithComponent("analyzer").WithFields(map[string]any{
			"type": string(event.Type),
			"ip":   event.IP,
		}).Errorf("event append failed: %v", err)
		return false
	}
	metrics.IncEventRecorded(string(event.Type))
	return true
}

// HandleBlockedRequest maps a rejecting decision to its HTTP response.
func HandleBlockedRequest(d *Decision) Response {
	switch {
	case d.IsBlocked:
		return Response{
			StatusCode: http.StatusForbidden,
			Body:       map[string]string{"error": "forbidden"},
		}
	case d.RateLimited():
		return Response{
			StatusCode: http.StatusTooManyRequests,
			Headers:    map[string]string{"Retry-After": "60"},
			Body:       map[string]string{"error": "too many requests"},
		}
	default:
		return Response{
			StatusCode: http.StatusBadRequest,
			Body:       map[string]string{"error": "request rejected"},
		}
	}
}

// dominantEventType picks the persisted event type for a tag set. Priority
// reflects how directly each family implies hostile intent.
func dominantEventType(threats []Threat) models.EventType {
	tags := make(map[Threat]bool, len(threats))
	for _, t := range threats {
		tags[t] = true
	}

	switch {
	case tags[ThreatMaliciousPayload]:
		return models.EventMaliciousPayload
	case tags[ThreatSQLInjection], tags[ThreatXSSAttempt]:
		return models.EventInjectionAttempt
	case tags[ThreatPathTraversal]:
		return models.EventSuspiciousFileAccess
	case tags[ThreatPotentialBot]:
		return models.EventPotentialBot
	case tags[ThreatPotentialCSRF]:
		return models.EventUnauthorizedAccess
	default:
		return models.EventUnauthorizedAccess
	}
}

// blockingEventTypes are the families that carry blocking intent; pure
// informational events never feed the escalation policy.
var blockingEventTypes = map[models.EventType]bool{
	models.EventMaliciousPayload:     true,
	models.EventInjectionAttempt:     true,
	models.EventSuspiciousFileAccess: true,
	models.EventPotentialBot:         true,
}

// isAuthEndpoint matches the paths owned by the authentication lockout
// mechanism.
func isAuthEndpoint(path string) bool {
	return strings.HasPrefix(path, "/api/auth") ||
		strings.Contains(path, "/signin") ||
		strings.Contains(path, "/signup")
}

// ResolveSourceIP resolves the best-effort client address: CDN header
// first, then the proxy real-IP header, then the first forwarded-for hop,
// then the transport peer.
func ResolveSourceIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func marshalDetails(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
