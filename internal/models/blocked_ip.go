package models

import (
	"time"
)

// BlockedIP is the durable registry entry naming one source address as
// blocked. A row is logically removed by unblocking (IsActive false) or by
// the expiry sweep; it is never hard-deleted, so block history survives.
type BlockedIP struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UUID      string     `json:"uuid" gorm:"uniqueIndex"`
	IP        string     `json:"ip" gorm:"uniqueIndex"`
	Reason    string     `json:"reason" gorm:"type:text"` // overwritten on each (re)block
	Score     int        `json:"score"`                   // triggering threat score, informational
	IsActive  bool       `json:"is_active" gorm:"index"`
	BlockedAt time.Time  `json:"blocked_at"` // set on first creation, kept on renewal
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"` // nil means indefinite
}

// CurrentlyBlocked reports whether the entry denies traffic at the given time.
func (b *BlockedIP) CurrentlyBlocked(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}
