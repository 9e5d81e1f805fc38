// Package ratelimit implements per-principal sliding-window admission control.
//
// Every admission decision runs before any expensive work. The limiter keeps
// one ordered bucket of admission timestamps per principal; a request is
// admitted when fewer than MaxRequests timestamps remain inside the window
// after eviction. Rejected requests are never recorded, so a burst of
// rejections cannot extend anyone's wait.
package ratelimit

import (
	"sync"
	"time"
)

// Config controls the admission window.
type Config struct {
	// MaxRequests is the number of admissions allowed per principal inside
	// one window. Zero rejects everything.
	MaxRequests int
	// Window is the sliding window length.
	Window time.Duration
}

const (
	DefaultMaxRequests = 20
	DefaultWindow      = 60 * time.Second
)

// Result is the outcome of a single admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long the caller must wait before an admission can
	// succeed. Positive only when Allowed is false.
	RetryAfter time.Duration
}

// Limiter owns all admission state. Decisions for distinct principals run
// concurrently; decisions for the same principal serialize on that
// principal's bucket lock.
type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu sync.Mutex
	// times holds admission timestamps in ascending order.
	times []time.Time
}

// New builds a Limiter. A non-positive Window falls back to the 60s
// default; MaxRequests < 0 is clamped to zero, which rejects everything.
func New(cfg Config) *Limiter {
	if cfg.MaxRequests < 0 {
		cfg.MaxRequests = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
	}
}

// NewDefault builds a Limiter with the default window settings.
func NewDefault() *Limiter {
	return New(Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow})
}

// Allow decides whether one request from principalID may proceed right now.
// Admission appends the current timestamp; rejection records nothing and
// reports how long until the oldest admission slides out of the window.
func (l *Limiter) Allow(principalID string) Result {
	b := l.bucket(principalID)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Evict every timestamp at or before the window boundary.
	i := 0
	for i < len(b.times) && !b.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.times = append(b.times[:0], b.times[i:]...)
	}

	if len(b.times) >= l.maxRequests {
		retry := l.window
		if len(b.times) > 0 {
			retry = b.times[0].Add(l.window).Sub(now)
		}
		if retry <= 0 {
			retry = time.Nanosecond
		}
		return Result{Allowed: false, RetryAfter: retry}
	}

	b.times = append(b.times, now)
	return Result{Allowed: true, Remaining: l.maxRequests - len(b.times)}
}

// bucket returns the principal's bucket, creating it atomically so two
// racing first requests end up sharing one bucket.
//
// TODO: buckets are never removed; add an idle sweep if the principal
// population stops being bounded by the tenant directory.
func (l *Limiter) bucket(principalID string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[principalID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[principalID]; ok {
		return b
	}
	b = &bucket{}
	l.buckets[principalID] = b
	return b
}
