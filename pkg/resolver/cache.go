package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/contracts"
	"github.com/ribeiromatosdavi25-ai/Companion-Core/pkg/weather"
)

const (
	sourceCacheFresh = "cache.fresh"
	sourceCacheStale = "cache.stale"

	// staleConfidenceFactor discounts answers served past their TTL.
	staleConfidenceFactor = 0.7

	DefaultCacheCapacity = 1024
)

// CacheEntry is one cached answer.
type CacheEntry struct {
	Answer     string
	Confidence float64
	CachedAtMs int64
	TTLMs      int64
}

func (e CacheEntry) age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.CachedAtMs) * time.Millisecond
}

func (e CacheEntry) expired(now time.Time) bool {
	return now.UnixMilli()-e.CachedAtMs > e.TTLMs
}

// SafeCache serves previously resolved answers, fresh or clearly marked
// stale. Entries are kept in a capacity-bounded LRU.
type SafeCache struct {
	mu              sync.Mutex
	entries         *lru.Cache[string, CacheEntry]
	defaultLocation string
	budget          time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func NewSafeCache(capacity int, defaultLocation string, budget time.Duration, logger *slog.Logger) *SafeCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if defaultLocation == "" {
		defaultLocation = weather.DefaultLocation
	}
	if logger == nil {
		logger = slog.Default()
	}
	entries, _ := lru.New[string, CacheEntry](capacity)
	return &SafeCache{
		entries:         entries,
		defaultLocation: defaultLocation,
		budget:          budget,
		now:             time.Now,
		logger:          logger.With("component", "resolver.cache"),
	}
}

// WithClock overrides the clock. Intended for tests.
func (c *SafeCache) WithClock(now func() time.Time) *SafeCache {
	c.now = now
	return c
}

func (c *SafeCache) Name() string { return "cache" }

// TopicKey is the cache key a request's answer would live under, or "" if
// the request has no cacheable topic.
func (c *SafeCache) TopicKey(req contracts.NormalizedRequest) string {
	if !req.HasHint(contracts.HintWeather) {
		return ""
	}
	return weather.TopicKey(c.Location(req))
}

// Location is the place a weather request refers to.
func (c *SafeCache) Location(req contracts.NormalizedRequest) string {
	return weather.ExtractLocation(req.Text, c.defaultLocation)
}

// Resolve serves the topic entry, stale or not.
func (c *SafeCache) Resolve(_ context.Context, req contracts.NormalizedRequest) (contracts.Result, error) {
	start := c.now()
	key := c.TopicKey(req)
	if key == "" {
		return contracts.Miss, nil
	}

	c.mu.Lock()
	entry, ok := c.entries.Get(key)
	c.mu.Unlock()
	if !ok {
		return contracts.Miss, nil
	}

	answer := contracts.Answer{
		Text:        entry.Answer,
		Confidence:  entry.Confidence,
		Source:      sourceCacheFresh,
		TimestampMs: start.UnixMilli(),
	}
	if entry.expired(start) {
		answer.Text = fmt.Sprintf("%s (cached %ds ago)", entry.Answer, int64(entry.age(start)/time.Second))
		answer.Confidence = entry.Confidence * staleConfidenceFactor
		answer.Source = sourceCacheStale
	}

	if end := c.now(); overBudget(start, end, c.budget) {
		c.logger.Warn("cache answer discarded", "key", key, "elapsed", end.Sub(start), "budget", c.budget)
		return contracts.Miss, nil
	}
	return contracts.Hit(answer), nil
}

// Set stores an answer under key with the given TTL.
func (c *SafeCache) Set(key, answer string, confidence float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, CacheEntry{
		Answer:     answer,
		Confidence: confidence,
		CachedAtMs: c.now().UnixMilli(),
		TTLMs:      ttl.Milliseconds(),
	})
}

func (c *SafeCache) Len() int {
	return c.entries.Len()
}
