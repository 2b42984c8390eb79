package fitbit

import (
	"sync"
	"time"
)

// DefaultQuota is Fitbit's per-user limit: 150 requests per rolling hour.
const DefaultQuota = 150

const rateWindow = time.Hour

// RateLimiter admits requests against a sliding one-hour window of request
// timestamps. Check-and-record is atomic under one mutex so concurrent
// callers cannot overshoot the quota.
type RateLimiter struct {
	mu     sync.Mutex
	quota  int
	window []time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter admitting at most quota requests per hour.
func NewRateLimiter(quota int) *RateLimiter {
	return &RateLimiter{quota: quota, now: time.Now}
}

// Admit records the request timestamp and returns nil if the quota allows
// another request. On rejection it returns ErrQuotaExceeded and records
// nothing, so a rejected call never consumes quota.
func (l *RateLimiter) Admit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-rateWindow)
	keep := l.window[:0]
	for _, t := range l.window {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.window = keep

	if len(l.window) >= l.quota {
		return ErrQuotaExceeded
	}
	l.window = append(l.window, l.now())
	return nil
}

// Used returns how many requests currently count against the window.
func (l *RateLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-rateWindow)
	n := 0
	for _, t := range l.window {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
