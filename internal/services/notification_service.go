package services

import (
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/bastiond/bastion/internal/logger"
	"github.com/bastiond/bastion/internal/models"
)

// NotificationService pushes operator alerts through shoutrrr URLs
// (Slack, Discord, Telegram, generic webhooks, ...). Delivery is
// fire-and-forget: failures are logged and never reach the request path.
type NotificationService struct {
	urls []string
}

// NewNotificationService parses a comma-separated list of shoutrrr URLs.
// An empty list produces a no-op service.
func NewNotificationService(urlsCSV string) *NotificationService {
	var urls []string
	for _, u := range strings.Split(urlsCSV, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return &NotificationService{urls: urls}
}

// Enabled reports whether any destination is configured.
func (s *NotificationService) Enabled() bool {
	return len(s.urls) > 0
}

// NotifyBlock announces an automatic block.
func (s *NotificationService) NotifyBlock(entry *models.BlockedIP, score int) {
	if entry == nil {
		return
	}
	expiry := "indefinite"
	if entry.ExpiresAt != nil {
		expiry = entry.ExpiresAt.UTC().Format("2006-01-02 15:04:05 MST")
	}
	s.Notify("Bastion: IP blocked",
		fmt.Sprintf("%s was blocked (threat score %d).\nReason: %s\nExpires: %s",
			entry.IP, score, entry.Reason, expiry))
}

// Notify sends title and message to every configured destination from a
// goroutine so slow chat backends cannot stall the caller.
func (s *NotificationService) Notify(title, message string) {
	if len(s.urls) == 0 {
		return
	}
	msg := fmt.Sprintf("%s\n\n%s", title, message)
	for _, url := range s.urls {
		go func(url string) {
			if err := shoutrrr.Send(url, msg); err != nil {
				logger.WithComponent("notifier").Errorf("notification delivery failed: %v", err)
			}
		}(url)
	}
}
