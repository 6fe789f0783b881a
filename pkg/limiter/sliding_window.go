// Package limiter implements per-key sliding-window admission control.
package limiter

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of tracked keys when none is given.
const DefaultCapacity = 10000

// Policy is a quota of Max admissions per Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// SlidingWindow admits at most Policy.Max calls per key within any
// trailing Policy.Window. Keys beyond capacity are evicted least recently
// used first; an evicted key starts over with an empty window.
type SlidingWindow struct {
	mu      sync.Mutex
	policy  Policy
	windows *lru.Cache[string, []time.Time]
	now     func() time.Time
}

// NewSlidingWindow builds a limiter tracking up to capacity keys.
func NewSlidingWindow(policy Policy, capacity int) *SlidingWindow {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails on a non-positive size.
	windows, _ := lru.New[string, []time.Time](capacity)
	return &SlidingWindow{
		policy:  policy,
		windows: windows,
		now:     time.Now,
	}
}

// WithClock overrides the clock. Intended for tests.
func (l *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Allow records an attempt for key and reports whether it was admitted.
// Rejected attempts are not recorded.
func (l *SlidingWindow) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps, _ := l.windows.Get(key)
	stamps = prune(stamps, now, l.policy.Window)

	if len(stamps) >= l.policy.Max {
		l.windows.Add(key, stamps)
		return false
	}
	l.windows.Add(key, append(stamps, now))
	return true
}

// RetryAfter is how long until key gets its next admission. Zero means
// the next Allow would succeed.
func (l *SlidingWindow) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps, _ := l.windows.Peek(key)
	stamps = prune(stamps, now, l.policy.Window)
	if len(stamps) < l.policy.Max || len(stamps) == 0 {
		return 0
	}
	return stamps[0].Add(l.policy.Window).Sub(now)
}

// Reset forgets key.
func (l *SlidingWindow) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Remove(key)
}

// Len is the number of keys currently tracked.
func (l *SlidingWindow) Len() int {
	return l.windows.Len()
}

func (l *SlidingWindow) Policy() Policy { return l.policy }

// prune drops timestamps that have aged out of the window. Stamps are
// appended in clock order so the survivors are a suffix.
func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= window {
		i++
	}
	if i == 0 {
		return stamps
	}
	kept := make([]time.Time, len(stamps)-i)
	copy(kept, stamps[i:])
	return kept
}
