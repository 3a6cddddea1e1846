package engine

import (
	"sync"
	"time"
)

type trackerKey struct {
	ip   string
	path string
}

type windowCounter struct {
	count       int
	windowStart time.Time
}

// VolumeTracker maintains process-local sliding-window request counters
// keyed by (source address, path). Counters are best effort: they are lost
// on restart and not shared across instances, which only delays detection
// and never causes false blocks.
type VolumeTracker struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[trackerKey]*windowCounter
}

// NewVolumeTracker returns a tracker with the given sliding window.
func NewVolumeTracker(window time.Duration) *VolumeTracker {
	return &VolumeTracker{
		window:   window,
		counters: make(map[trackerKey]*windowCounter),
	}
}

// Record counts one request for (ip, path) and returns the count inside
// the current window, including this request.
func (t *VolumeTracker) Record(ip, path string) int {
	now := time.Now()
	key := trackerKey{ip: ip, path: path}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[key]
	if !ok || now.Sub(c.windowStart) > t.window {
		c = &windowCounter{windowStart: now}
		t.counters[key] = c
	}
	c.count++
	return c.count
}

// AggregateVolume sums the live window counts across every path tracked
// for the source address.
func (t *VolumeTracker) AggregateVolume(ip string) int {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for key, c := range t.counters {
		if key.ip != ip {
			continue
		}
		if now.Sub(c.windowStart) > t.window {
			continue
		}
		total += c.count
	}
	return total
}

// Prune drops counters whose window elapsed more than one full window ago.
// Called from the maintenance sweep; the map otherwise grows with every
// distinct (ip, path) pair seen.
func (t *VolumeTracker) Prune() int {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, c := range t.counters {
		if now.Sub(c.windowStart) > 2*t.window {
			delete(t.counters, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live counter entries.
func (t *VolumeTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}
