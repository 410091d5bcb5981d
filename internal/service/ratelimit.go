package service

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-rule minimum interval between deliveries. State
// is process-lifetime only; a restart resets all intervals, which is
// acceptable for this use. The default policy is drop, not queue, so memory
// stays bounded under bursts.
type RateLimiter struct {
	mu       sync.Mutex
	lastSend map[string]time.Time
	now      func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		lastSend: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a delivery for the rule may proceed now, and if so
// records the send time. minInterval <= 0 always allows.
func (r *RateLimiter) Allow(account, ruleName string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}

	key := account + "/" + ruleName

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastSend[key]; ok && now.Sub(last) < minInterval {
		return false
	}
	r.lastSend[key] = now
	return true
}

// Reset clears the recorded send time for one rule, used when a rule is
// removed or reconfigured.
func (r *RateLimiter) Reset(account, ruleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSend, account+"/"+ruleName)
}
