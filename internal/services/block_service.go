package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bastiond/bastion/internal/models"
)

var ErrInvalidIP = errors.New("ip must not be empty")

const defaultAutoBlockScore = 100

// BlockService is the durable registry of blocked source addresses plus an
// in-memory time-boxed cache for the request hot path. The database is the
// source of truth; the cache only answers "already known-blocked" faster
// and may be stale for up to its TTL.
type BlockService struct {
	db  *gorm.DB
	ttl time.Duration

	mu          sync.RWMutex
	cache       map[string]bool
	lastRefresh time.Time
}

// NewBlockService returns a BlockService with the given cache TTL.
func NewBlockService(db *gorm.DB, ttl time.Duration) *BlockService {
	return &BlockService{
		db:    db,
		ttl:   ttl,
		cache: make(map[string]bool),
	}
}

// IsBlocked reports whether the address is currently blocked. A fresh
// cache entry answers without touching the store; otherwise the store is
// consulted and the cache refreshed. Reads never wait on anything but the
// cache lock.
func (s *BlockService) IsBlocked(ip string) (bool, error) {
	now := time.Now()

	s.mu.RLock()
	if now.Sub(s.lastRefresh) < s.ttl {
		if blocked, ok := s.cache[ip]; ok {
			s.mu.RUnlock()
			return blocked, nil
		}
	}
	s.mu.RUnlock()

	var entry models.BlockedIP
	blocked := false
	err := s.db.Where("ip = ?", ip).First(&entry).Error
	switch {
	case err == nil:
		blocked = entry.CurrentlyBlocked(now)
	case errors.Is(err, gorm.ErrRecordNotFound):
		// not blocked
	default:
		return false, fmt.Errorf("block lookup: %w", err)
	}

	s.mu.Lock()
	s.cache[ip] = blocked
	s.lastRefresh = now
	s.mu.Unlock()

	return blocked, nil
}

// Block upserts a block for the address. An existing row keeps its
// original BlockedAt; reason and expiry are overwritten.
// durationMinutes <= 0 means an indefinite block. The cache entry is
// written through immediately.
func (s *BlockService) Block(ip, reason string, durationMinutes int) (*models.BlockedIP, error) {
	if ip == "" {
		return nil, ErrInvalidIP
	}

	now := time.Now()
	var expiresAt *time.Time
	if durationMinutes > 0 {
		t := now.Add(time.Duration(durationMinutes) * time.Minute)
		expiresAt = &t
	}

	var entry models.BlockedIP
	err := s.db.Where("ip = ?", ip).First(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = models.BlockedIP{
			UUID:      uuid.NewString(),
			IP:        ip,
			Reason:    reason,
			Score:     defaultAutoBlockScore,
			IsActive:  true,
			BlockedAt: now,
			ExpiresAt: expiresAt,
		}
		if err := s.db.Create(&entry).Error; err != nil {
			return nil, fmt.Errorf("create block: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("block lookup: %w", err)
	default:
		entry.Reason = reason
		entry.IsActive = true
		entry.ExpiresAt = expiresAt
		if err := s.db.Save(&entry).Error; err != nil {
			return nil, fmt.Errorf("update block: %w", err)
		}
	}

	s.mu.Lock()
	s.cache[ip] = true
	s.lastRefresh = now
	s.mu.Unlock()

	return &entry, nil
}

// Unblock deactivates every block for the address without deleting its
// history, and writes the cache through immediately.
func (s *BlockService) Unblock(ip string) error {
	if ip == "" {
		return ErrInvalidIP
	}

	if err := s.db.Model(&models.BlockedIP{}).
		Where("ip = ?", ip).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("unblock: %w", err)
	}

	s.mu.Lock()
	s.cache[ip] = false
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	return nil
}

// ListActive returns the currently-blocked addresses, newest block first.
func (s *BlockService) ListActive() ([]models.BlockedIP, error) {
	now := time.Now()
	var entries []models.BlockedIP
	err := s.db.Where("is_active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now).
		Order("blocked_at desc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CleanupExpired deactivates every block whose expiry has passed and
// invalidates the whole cache. A full clear is cheap relative to the TTL
// and avoids tracking which entries the sweep touched.
func (s *BlockService) CleanupExpired() (int64, error) {
	res := s.db.Model(&models.BlockedIP{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, time.Now()).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("expire blocks: %w", res.Error)
	}

	s.mu.Lock()
	s.cache = make(map[string]bool)
	s.lastRefresh = time.Time{}
	s.mu.Unlock()

	return res.RowsAffected, nil
}
