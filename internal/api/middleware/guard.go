package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/bastiond/bastion/internal/config"
	"github.com/bastiond/bastion/internal/engine"
)

// Guard runs the analysis engine on every inbound request and enforces its
// decision. In "monitor" mode high-risk requests are logged and allowed
// (block-list hits still deny); in "block" mode they receive the terse
// 403/429/400 mapping. Callers see no diagnostic detail; full context goes
// to the log and the event store.
func Guard(analyzer *engine.Analyzer, cfg config.EngineConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := analyzer.Analyze(c.Request)

		reject := decision.IsBlocked ||
			decision.RateLimited() ||
			decision.RiskScore > cfg.EventRiskThreshold

		if !reject {
			c.Next()
			return
		}

		entry := GetRequestLogger(c).WithFields(map[string]interface{}{
			"ip":         decision.IP,
			"path":       SanitizePath(decision.Path),
			"method":     decision.Method,
			"risk_score": decision.RiskScore,
			"threats":    decision.Threats,
			"mode":       cfg.Mode,
		})

		if cfg.Mode == "monitor" && !decision.IsBlocked {
			entry.Warn("high-risk request monitored")
			c.Next()
			return
		}

		entry.Warn("request rejected")
		resp := engine.HandleBlockedRequest(&decision)
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.AbortWithStatusJSON(resp.StatusCode, resp.Body)
	}
}
