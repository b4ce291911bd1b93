package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vmelnik/intraday_position_engine/internal/domain"
	"go.uber.org/zap"
)

// ValueKind partitions the flat cache key space per position.
type ValueKind string

const (
	KindPosition ValueKind = "position"
	KindRisk     ValueKind = "risk"
	KindRule     ValueKind = "rule"
)

type cacheKey struct {
	pos  domain.PositionID
	kind ValueKind
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// StateCache holds the latest known value of every mutable position and
// risk field, so the price path never waits on the store. Put/Get are
// O(1) under a single RWMutex; the mutex gives the acquire/release
// visibility guarantee a put-then-get across goroutines needs.
type StateCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	maxAge     time.Duration
	sweepEvery time.Duration
	logger     *zap.Logger
}

func NewStateCache(maxAge, sweepEvery time.Duration, logger *zap.Logger) *StateCache {
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	return &StateCache{
		entries:    make(map[cacheKey]cacheEntry),
		maxAge:     maxAge,
		sweepEvery: sweepEvery,
		logger:     logger,
	}
}

func (c *StateCache) Put(id domain.PositionID, kind ValueKind, value any) {
	c.mu.Lock()
	c.entries[cacheKey{pos: id, kind: kind}] = cacheEntry{value: value, storedAt: time.Now()}
	n := len(c.entries)
	c.mu.Unlock()
	metricCacheEntries.Set(float64(n))
}

func (c *StateCache) Get(id domain.PositionID, kind ValueKind) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{pos: id, kind: kind}]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *StateCache) Delete(id domain.PositionID, kind ValueKind) {
	c.mu.Lock()
	delete(c.entries, cacheKey{pos: id, kind: kind})
	c.mu.Unlock()
}

// Typed accessors store values, not pointers, so readers can never
// mutate a cached record in place.

func (c *StateCache) PutPosition(p domain.PositionRecord) {
	c.Put(p.ID, KindPosition, p)
}

func (c *StateCache) GetPosition(id domain.PositionID) (domain.PositionRecord, bool) {
	v, ok := c.Get(id, KindPosition)
	if !ok {
		return domain.PositionRecord{}, false
	}
	return v.(domain.PositionRecord), true
}

func (c *StateCache) PutRisk(rs domain.RiskState) {
	c.Put(rs.PositionID, KindRisk, rs)
}

func (c *StateCache) GetRisk(id domain.PositionID) (domain.RiskState, bool) {
	v, ok := c.Get(id, KindRisk)
	if !ok {
		return domain.RiskState{}, false
	}
	return v.(domain.RiskState), true
}

func (c *StateCache) PutRule(id domain.PositionID, rule domain.RuleConfig) {
	c.Put(id, KindRule, rule)
}

func (c *StateCache) GetRule(id domain.PositionID) (domain.RuleConfig, bool) {
	v, ok := c.Get(id, KindRule)
	if !ok {
		return domain.RuleConfig{}, false
	}
	return v.(domain.RuleConfig), true
}

func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes entries older than the configured max age and returns
// how many were dropped. Exited positions stop being written, so their
// entries age out here and memory stays bounded.
func (c *StateCache) Sweep() int {
	cutoff := time.Now().Add(-c.maxAge)

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	metricCacheEntries.Set(float64(n))
	if removed > 0 {
		c.logger.Info("state cache sweep",
			zap.Int("removed", removed),
			zap.Int("remaining", n))
	}
	return removed
}

// Run sweeps on the configured interval until ctx is cancelled.
func (c *StateCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
