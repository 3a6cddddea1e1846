package engine

import (
	"regexp"
	"strings"

	"github.com/bastiond/bastion/internal/logger"
)

// Threat is one short label attached to a request by a signature rule.
type Threat string

const (
	ThreatSQLInjection        Threat = "SQL_INJECTION"
	ThreatXSSAttempt          Threat = "XSS_ATTEMPT"
	ThreatPathTraversal       Threat = "PATH_TRAVERSAL"
	ThreatPotentialBot        Threat = "POTENTIAL_BOT"
	ThreatSuspiciousUserAgent Threat = "SUSPICIOUS_USER_AGENT"
	ThreatPotentialCSRF       Threat = "POTENTIAL_CSRF"
	ThreatMaliciousPayload    Threat = "MALICIOUS_PAYLOAD"

	// ThreatBlockedIP is attached by the analyzer when the source address
	// is already on the block list; it is not a signature rule.
	ThreatBlockedIP Threat = "BLOCKED_IP"
	// ThreatRateLimitExceeded and ThreatAbnormalTraffic are attached by
	// the analyzer from the volume tracker, not by signature rules.
	ThreatRateLimitExceeded Threat = "RATE_LIMIT_EXCEEDED"
	ThreatAbnormalTraffic   Threat = "ABNORMAL_TRAFFIC"
)

// RequestSignals carries the parts of a request the signature library
// inspects. Target is the full request line (path plus raw query); request
// bodies are not available at this layer.
type RequestSignals struct {
	Method    string
	Target    string
	Path      string
	UserAgent string
	Referer   string
}

// SignatureRule classifies one request into zero or one threat tag.
// Rules are additive and evaluated independently; a rule that fails to
// evaluate contributes no tag.
type SignatureRule struct {
	Name   Threat
	Weight int
	Match  func(sig *RequestSignals) bool
}

var (
	sqlUnionRe   = regexp.MustCompile(`(?i)(\bunion\b[\s\S]*\bselect\b|\bselect\b[\s\S]*\bunion\b)`)
	sqlDDLRe     = regexp.MustCompile(`(?i)\b(drop|create|alter|insert|delete|update)\s+(table|database|schema)\b`)
	sqlBoolRe    = regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+`)
	sqlQuoteRe   = regexp.MustCompile(`(?i)'[^']*\b(or|and)\b[^']*\d+\s*=\s*\d+`)
	xssScriptRe  = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)
	xssSchemeRe  = regexp.MustCompile(`(?i)javascript:`)
	xssHandlerRe = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	xssIframeRe  = regexp.MustCompile(`(?i)<iframe[^>]*>`)
	traversalRe  = regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e\\)`)
	botAgentRe   = regexp.MustCompile(`(?i)(bot|crawler|spider|scraper|curl|wget|python|php|automated|headless)`)
	payloadRe    = regexp.MustCompile(`(?i)(eval\(|exec\(|system\(|shell_exec|base64_decode|file_get_contents)`)
)

// csrfSensitivePrefixes are the write endpoints that legitimate browsers
// always reach with a referer header.
var csrfSensitivePrefixes = []string{"/api/auth", "/api/payment", "/api/admin"}

const minUserAgentLength = 10

var signatureRules = []SignatureRule{
	{
		Name:   ThreatSQLInjection,
		Weight: 40,
		Match: func(sig *RequestSignals) bool {
			return sqlUnionRe.MatchString(sig.Target) ||
				sqlDDLRe.MatchString(sig.Target) ||
				sqlBoolRe.MatchString(sig.Target) ||
				sqlQuoteRe.MatchString(sig.Target)
		},
	},
	{
		Name:   ThreatXSSAttempt,
		Weight: 40,
		Match: func(sig *RequestSignals) bool {
			return xssScriptRe.MatchString(sig.Target) ||
				xssSchemeRe.MatchString(sig.Target) ||
				xssHandlerRe.MatchString(sig.Target) ||
				xssIframeRe.MatchString(sig.Target)
		},
	},
	{
		Name:   ThreatPathTraversal,
		Weight: 35,
		Match: func(sig *RequestSignals) bool {
			return traversalRe.MatchString(sig.Target)
		},
	},
	{
		Name:   ThreatPotentialBot,
		Weight: 20,
		Match: func(sig *RequestSignals) bool {
			return sig.UserAgent != "" && botAgentRe.MatchString(sig.UserAgent)
		},
	},
	{
		Name:   ThreatSuspiciousUserAgent,
		Weight: 15,
		Match: func(sig *RequestSignals) bool {
			return len(sig.UserAgent) < minUserAgentLength
		},
	},
	{
		Name:   ThreatPotentialCSRF,
		Weight: 25,
		Match: func(sig *RequestSignals) bool {
			if sig.Method != "POST" || sig.Referer != "" {
				return false
			}
			for _, prefix := range csrfSensitivePrefixes {
				if strings.HasPrefix(sig.Path, prefix) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:   ThreatMaliciousPayload,
		Weight: 50,
		Match: func(sig *RequestSignals) bool {
			if sig.Method != "POST" && sig.Method != "PUT" {
				return false
			}
			return payloadRe.MatchString(sig.Target)
		},
	},
}

// MatchSignatures runs every signature rule against the request and
// returns the set of matched threat tags. A panicking rule is skipped so a
// malformed input can never take down the request path.
func MatchSignatures(sig *RequestSignals) []Threat {
	threats := make([]Threat, 0, 2)
	for _, rule := range signatureRules {
		if matchRule(rule, sig) {
			threats = append(threats, rule.Name)
		}
	}
	return threats
}

func matchRule(rule SignatureRule, sig *RequestSignals) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("signatures").WithField("rule", string(rule.Name)).
				Errorf("rule evaluation panicked: %v", r)
			matched = false
		}
	}()
	return rule.Match(sig)
}

// threatWeights is derived from the rule list so the scorer and the rules
// cannot drift apart. Tags without a rule (tracker- and block-sourced)
// score the default weight.
var threatWeights = func() map[Threat]int {
	w := make(map[Threat]int, len(signatureRules))
	for _, rule := range signatureRules {
		w[rule.Name] = rule.Weight
	}
	return w
}()
