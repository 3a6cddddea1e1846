package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bastiond/bastion/internal/engine"
	"github.com/bastiond/bastion/internal/models"
	"github.com/bastiond/bastion/internal/services"
)

// adminActor labels audit events created through the admin API.
const adminActor = "admin-api"

// SecurityHandler exposes the event and block stores to the admin console.
type SecurityHandler struct {
	events *services.EventService
	blocks *services.BlockService
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(events *services.EventService, blocks *services.BlockService) *SecurityHandler {
	return &SecurityHandler{events: events, blocks: blocks}
}

// GetStats returns aggregate event statistics over a trailing window
// (?hours=24 by default).
func (h *SecurityHandler) GetStats(c *gin.Context) {
	hours := 24
	if v := c.Query("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}

	stats, err := h.events.Stats(time.Duration(hours) * time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetEvents returns recent security events, newest first
// (?limit=50&severity=HIGH).
func (h *SecurityHandler) GetEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	severity := models.Severity(c.Query("severity"))
	if severity != "" && !severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
		return
	}

	events, err := h.events.Recent(limit, severity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetBlockedIPs lists the currently-blocked addresses, newest block first.
func (h *SecurityHandler) GetBlockedIPs(c *gin.Context) {
	entries, err := h.blocks.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blocked IPs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked_ips": entries})
}

type blockIPRequest struct {
	IP              string `json:"ip" binding:"required"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// BlockIP creates or renews a manual block. duration_minutes 0 means
// indefinite. The action is recorded as an ADMIN_ACTION event.
func (h *SecurityHandler) BlockIP(c *gin.Context) {
	var req blockIPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if net.ParseIP(req.IP) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid IP address"})
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual block"
	}

	entry, err := h.blocks.Block(req.IP, req.Reason, req.DurationMinutes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block IP"})
		return
	}

	h.audit(c, "block_ip", map[string]any{
		"ip":               req.IP,
		"reason":           req.Reason,
		"duration_minutes": req.DurationMinutes,
	})

	c.JSON(http.StatusCreated, entry)
}

// UnblockIP deactivates every block for the address.
func (h *SecurityHandler) UnblockIP(c *gin.Context) {
	ip := c.Param("ip")
	if net.ParseIP(ip) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid IP address"})
		return
	}

	if err := h.blocks.Unblock(ip); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock IP"})
		return
	}

	h.audit(c, "unblock_ip", map[string]any{"ip": ip})

	c.JSON(http.StatusOK, gin.H{"status": "unblocked", "ip": ip})
}

// audit records an administrative action in the event store. Failures are
// logged inside the service path and must not fail the admin call.
func (h *SecurityHandler) audit(c *gin.Context, action string, details map[string]any) {
	details["action"] = action
	raw, err := json.Marshal(details)
	if err != nil {
		return
	}
	_ = h.events.Append(&models.SecurityEvent{
		Type:      models.EventAdminAction,
		Severity:  models.SeverityLow,
		Source:    adminActor,
		IP:        engine.ResolveSourceIP(c.Request),
		UserAgent: c.Request.UserAgent(),
		Details:   string(raw),
	})
}
