package model

import (
	"fmt"
	"time"
)

// Tier identifies where a cached value was served from.
type Tier int

const (
	TierMemory Tier = iota + 1
	TierRedis
	TierDatabase
)

// Tiers lists every tier, fastest first.
var Tiers = []Tier{TierMemory, TierRedis, TierDatabase}

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierRedis:
		return "redis"
	case TierDatabase:
		return "database"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses the wire name of a tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "memory":
		return TierMemory, nil
	case "redis":
		return TierRedis, nil
	case "database":
		return TierDatabase, nil
	default:
		return 0, fmt.Errorf("unknown cache tier %q", s)
	}
}

// CacheEntry is one key held by one tier.
type CacheEntry struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	SizeBytes    int       `json:"size_bytes"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RemainingTTL is zero once the entry has expired.
func (e *CacheEntry) RemainingTTL(now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// KeyStats tracks access counters for a single key across tiers.
type KeyStats struct {
	Key             string        `json:"key"`
	MemoryHits      int64         `json:"memory_hits"`
	RedisHits       int64         `json:"redis_hits"`
	DatabaseQueries int64         `json:"database_queries"`
	Misses          int64         `json:"misses"`
	LastAccessAt    time.Time     `json:"last_access_at"`
	SizeBytes       int           `json:"size_bytes"`
	MemoryTTL       time.Duration `json:"memory_ttl"`
}

// Hits is the number of lookups answered without touching the database.
func (s KeyStats) Hits() int64 {
	return s.MemoryHits + s.RedisHits
}

func (s KeyStats) HitRate() float64 {
	return HitRate(s.Hits(), s.Misses)
}

// TierStats aggregates counters for one tier.
type TierStats struct {
	Tier      Tier    `json:"tier"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
	// Queries is only meaningful for the database tier.
	Queries int64 `json:"queries,omitempty"`
}

// CacheStats is the admin view of the whole cache.
type CacheStats struct {
	Tiers       []TierStats `json:"tiers"`
	Keys        []KeyStats  `json:"keys"`
	TotalHits   int64       `json:"total_hits"`
	TotalMisses int64       `json:"total_misses"`
	HitRate     float64     `json:"hit_rate"`
	ResetAt     time.Time   `json:"reset_at"`
}

// Tier returns the stats for t, or a zero value when absent.
func (s CacheStats) Tier(t Tier) TierStats {
	for _, ts := range s.Tiers {
		if ts.Tier == t {
			return ts
		}
	}
	return TierStats{Tier: t}
}

// HitRate returns hits/(hits+misses), or 0 when nothing was recorded.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total <= 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// EntityKind names an entity whose change fans out to cached aggregates.
type EntityKind int

const (
	EntityPerson EntityKind = iota + 1
	EntityTown
	EntityHomepage
)

func (k EntityKind) String() string {
	switch k {
	case EntityPerson:
		return "person"
	case EntityTown:
		return "town"
	case EntityHomepage:
		return "homepage"
	default:
		return fmt.Sprintf("entity(%d)", int(k))
	}
}

func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "person":
		return EntityPerson, nil
	case "town":
		return EntityTown, nil
	case "homepage":
		return EntityHomepage, nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q", s)
	}
}

// EntityRef points at the entity that changed.
type EntityRef struct {
	Kind       EntityKind
	TownSlug   string
	PersonSlug string
	// PreviousTownSlug is set when a person moved between towns.
	PreviousTownSlug string
}
