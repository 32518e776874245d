package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/jwalitptl/towndir/internal/model"
)

type tierCounters struct {
	hits    int64
	misses  int64
	queries int64
}

// statsRecorder holds the per-tier and per-key counters. Reset zeroes the
// counters and leaves cached entries alone. Per-key counters are kept for at
// most maxKeys keys, least recently looked up dropped first; the totals do
// not depend on them.
type statsRecorder struct {
	mu      sync.Mutex
	maxKeys int
	tiers   map[model.Tier]*tierCounters
	keys    *simplelru.LRU[string, *model.KeyStats]
	misses  int64
	resetAt time.Time
}

func newStatsRecorder(maxKeys int, now time.Time) (*statsRecorder, error) {
	if maxKeys <= 0 {
		return nil, fmt.Errorf("cache: stats key bound must be positive, got %d", maxKeys)
	}
	s := &statsRecorder{maxKeys: maxKeys}
	s.reset(now)
	return s, nil
}

func (s *statsRecorder) reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers = make(map[model.Tier]*tierCounters, len(model.Tiers))
	for _, t := range model.Tiers {
		s.tiers[t] = &tierCounters{}
	}
	// maxKeys is validated by newStatsRecorder.
	s.keys, _ = simplelru.NewLRU[string, *model.KeyStats](s.maxKeys, nil)
	s.misses = 0
	s.resetAt = now
}

// key must be called with mu held.
func (s *statsRecorder) key(key string, now time.Time) *model.KeyStats {
	ks, ok := s.keys.Get(key)
	if !ok {
		ks = &model.KeyStats{Key: key}
		s.keys.Add(key, ks)
	}
	ks.LastAccessAt = now
	return ks
}

func (s *statsRecorder) hit(tier model.Tier, key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[tier].hits++
	ks := s.key(key, now)
	switch tier {
	case model.TierMemory:
		ks.MemoryHits++
	case model.TierRedis:
		ks.RedisHits++
	}
}

func (s *statsRecorder) miss(tier model.Tier, key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[tier].misses++
	s.key(key, now)
}

// uncached records a lookup that no cache tier could answer.
func (s *statsRecorder) uncached(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.misses++
	s.key(key, now).Misses++
}

// query records one executed authoritative load.
func (s *statsRecorder) query(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[model.TierDatabase].queries++
	s.key(key, now).DatabaseQueries++
}

func (s *statsRecorder) snapshot(memory *MemoryTier, now time.Time) model.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.CacheStats{ResetAt: s.resetAt}

	for _, t := range model.Tiers {
		c := s.tiers[t]
		ts := model.TierStats{Tier: t}
		if t == model.TierDatabase {
			ts.Queries = c.queries
		} else {
			ts.Hits = c.hits
			ts.Misses = c.misses
			ts.HitRate = model.HitRate(c.hits, c.misses)
			stats.TotalHits += c.hits
		}
		if t == model.TierMemory {
			ts.Entries = memory.Len()
			ts.SizeBytes = memory.Bytes()
		}
		stats.Tiers = append(stats.Tiers, ts)
	}

	stats.TotalMisses = s.misses
	stats.Keys = make([]model.KeyStats, 0, s.keys.Len())
	for _, key := range s.keys.Keys() {
		ks, _ := s.keys.Peek(key)
		out := *ks
		if e, ok := memory.Peek(key); ok {
			out.SizeBytes = e.SizeBytes
			out.MemoryTTL = e.RemainingTTL(now)
		}
		stats.Keys = append(stats.Keys, out)
	}
	sort.Slice(stats.Keys, func(i, j int) bool {
		return stats.Keys[i].Key < stats.Keys[j].Key
	})

	stats.HitRate = model.HitRate(stats.TotalHits, stats.TotalMisses)
	return stats
}
