package logging

import (
	"sync"
	"time"
)

// RateLimiter suppresses repeated notifications for the same key within a
// given window. It exists for call sites (such as the tree builder's missing
// archived representation notice) that are invoked on a per-file or per-path
// basis and would otherwise flood the log on a large, mostly-unarchived tree.
type RateLimiter struct {
	// window is the minimum duration between two permitted notifications for
	// the same key.
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewRateLimiter creates a rate limiter with the specified suppression
// window. A non-positive window disables suppression entirely (every call to
// Allow returns true).
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Allow reports whether a notification for key should be emitted right now,
// recording the attempt if so. It is safe for concurrent use.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	if r.window <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.seen[key]; ok && now.Sub(last) < r.window {
		return false
	}
	r.seen[key] = now
	return true
}
