// Package cache implements the read-through cascade in front of the
// storage tier: an in-process byte-bounded cache (L1) over an optional
// shared Redis cache (L2). L2 sits behind a circuit breaker; when it
// misbehaves the cascade degrades to L1 plus storage rather than
// failing requests.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// Stats is a point-in-time snapshot of cascade counters.
type Stats struct {
	L1Hits     uint64  `json:"l1_hits"`
	L1Misses   uint64  `json:"l1_misses"`
	L2Hits     uint64  `json:"l2_hits"`
	L2Misses   uint64  `json:"l2_misses"`
	Promotions uint64  `json:"promotions"`
	L1HitRate  float64 `json:"l1_hit_rate"`
	L2HitRate  float64 `json:"l2_hit_rate"`
	HitRate    float64 `json:"hit_rate"`
}

// Cascade is the two-tier cache. All values are opaque byte payloads;
// serialization belongs to the callers.
type Cascade struct {
	l1      *L1
	l2      Remote
	l2TTL   time.Duration
	breaker *merrors.CircuitBreaker
	logger  *slog.Logger

	l1Hits     atomic.Uint64
	l1Misses   atomic.Uint64
	l2Hits     atomic.Uint64
	l2Misses   atomic.Uint64
	promotions atomic.Uint64
}

// NewCascade assembles the cascade. l2 may be nil for single-process
// deployments.
func NewCascade(l1 *L1, l2 Remote, l2TTL time.Duration, breaker *merrors.CircuitBreaker, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{l1: l1, l2: l2, l2TTL: l2TTL, breaker: breaker, logger: logger}
}

// Get checks L1 then L2. An L2 hit is promoted into L1 so subsequent
// reads stay in-process.
func (c *Cascade) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.l1.Get(key); ok {
		c.l1Hits.Add(1)
		return value, true
	}
	c.l1Misses.Add(1)

	if c.l2 == nil {
		return nil, false
	}
	if !c.breaker.Allow() {
		return nil, false
	}
	value, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Debug("l2 cache read failed", "key", key, "error", err)
		return nil, false
	}
	c.breaker.RecordSuccess()
	if !ok {
		c.l2Misses.Add(1)
		return nil, false
	}
	c.l2Hits.Add(1)
	c.l1.Set(key, value)
	c.promotions.Add(1)
	return value, true
}

// Set writes both tiers. L2 writes are best effort.
func (c *Cascade) Set(ctx context.Context, key string, value []byte) {
	c.l1.Set(key, value)
	if c.l2 == nil || !c.breaker.Allow() {
		return
	}
	if err := c.l2.Set(ctx, key, value, c.l2TTL); err != nil {
		c.breaker.RecordFailure()
		c.logger.Debug("l2 cache write failed", "key", key, "error", err)
		return
	}
	c.breaker.RecordSuccess()
}

// InvalidateFile drops the chunk entries of one file, then every
// search result. Chunk keys go first so a racing search cannot
// repopulate from a stale listing.
func (c *Cascade) InvalidateFile(ctx context.Context, repository, filePath string) {
	c.l1.Delete(ChunksFileKey(repository, filePath))
	c.remoteDelete(ctx, ChunksFileKey(repository, filePath))
	c.invalidateSearches(ctx)
}

// InvalidateRepository drops every chunk entry of a repository, then
// every search result.
func (c *Cascade) InvalidateRepository(ctx context.Context, repository string) {
	c.l1.Delete(ChunksRepoKey(repository))
	c.l1.DeletePrefix(prefixChunksFile + repository + ":")
	c.remoteDelete(ctx, ChunksRepoKey(repository))
	c.remoteDeletePattern(ctx, prefixChunksFile+repository+":*")
	c.invalidateSearches(ctx)
}

// InvalidateMemories drops memory list and memory search entries.
func (c *Cascade) InvalidateMemories(ctx context.Context) {
	c.l1.DeletePrefix(prefixMemoryList)
	c.l1.DeletePrefix(prefixMemorySearch)
	c.remoteDeletePattern(ctx, prefixMemoryList+"*")
	c.remoteDeletePattern(ctx, prefixMemorySearch+"*")
}

func (c *Cascade) invalidateSearches(ctx context.Context) {
	c.l1.DeletePrefix(prefixSearch)
	c.remoteDeletePattern(ctx, prefixSearch+"*")
}

// Flush clears both tiers completely.
func (c *Cascade) Flush(ctx context.Context) {
	c.l1.Clear()
	if c.l2 == nil || !c.breaker.Allow() {
		return
	}
	for _, prefix := range []string{prefixSearch, prefixChunksRepo, prefixChunksFile, prefixMemoryList, prefixMemorySearch} {
		c.remoteDeletePattern(ctx, prefix+"*")
	}
}

func (c *Cascade) remoteDelete(ctx context.Context, keys ...string) {
	if c.l2 == nil || !c.breaker.Allow() {
		return
	}
	if err := c.l2.Delete(ctx, keys...); err != nil {
		c.breaker.RecordFailure()
		c.logger.Debug("l2 cache delete failed", "error", err)
		return
	}
	c.breaker.RecordSuccess()
}

func (c *Cascade) remoteDeletePattern(ctx context.Context, pattern string) {
	if c.l2 == nil || !c.breaker.Allow() {
		return
	}
	if err := c.l2.DeletePattern(ctx, pattern); err != nil {
		c.breaker.RecordFailure()
		c.logger.Debug("l2 cache pattern delete failed", "pattern", pattern, "error", err)
		return
	}
	c.breaker.RecordSuccess()
}

// Stats snapshots the counters. The effective hit rate composes the
// tiers: h1 + (1-h1)*h2.
func (c *Cascade) Stats() Stats {
	s := Stats{
		L1Hits:     c.l1Hits.Load(),
		L1Misses:   c.l1Misses.Load(),
		L2Hits:     c.l2Hits.Load(),
		L2Misses:   c.l2Misses.Load(),
		Promotions: c.promotions.Load(),
	}
	if total := s.L1Hits + s.L1Misses; total > 0 {
		s.L1HitRate = float64(s.L1Hits) / float64(total)
	}
	if total := s.L2Hits + s.L2Misses; total > 0 {
		s.L2HitRate = float64(s.L2Hits) / float64(total)
	}
	s.HitRate = s.L1HitRate + (1-s.L1HitRate)*s.L2HitRate
	return s
}

// Close releases the in-process tier and the remote connection.
func (c *Cascade) Close() error {
	c.l1.Close()
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}
