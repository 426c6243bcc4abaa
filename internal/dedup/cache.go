// Package dedup provides the in-process message dedup cache. It only
// short-circuits the fast path; the database unique index on
// external_message_id remains the source of truth.
package dedup

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
)

// Cache remembers recently recorded external message IDs for a TTL window.
type Cache struct {
	items      *gocache.Cache
	maxEntries int
	clinicID   string
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewCache creates a dedup cache. Entries expire after ttl; the internal
// janitor sweeps every sweepEvery. maxEntries bounds memory between sweeps,
// zero means unbounded.
func NewCache(clinicID string, ttl, sweepEvery time.Duration, maxEntries int) *Cache {
	return &Cache{
		items:      gocache.New(ttl, sweepEvery),
		maxEntries: maxEntries,
		clinicID:   clinicID,
	}
}

// Seen reports whether an external message ID was recorded within the TTL
// window. A miss says nothing definitive, the caller still relies on the
// database unique index.
func (c *Cache) Seen(externalMessageID string) bool {
	if externalMessageID == "" {
		return false
	}
	if _, found := c.items.Get(externalMessageID); found {
		c.hits.Add(1)
		observer.IncCacheCheck(c.clinicID, "dedup", "hit")
		return true
	}
	c.misses.Add(1)
	observer.IncCacheCheck(c.clinicID, "dedup", "miss")
	return false
}

// MarkSeen records an external message ID after a successful insert or a
// confirmed duplicate. When the cache is full the expired entries are swept
// first; if it is still full the eldest entries are sacrificed by a flush.
func (c *Cache) MarkSeen(externalMessageID string) {
	if externalMessageID == "" {
		return
	}
	if c.maxEntries > 0 && c.items.ItemCount() >= c.maxEntries {
		c.items.DeleteExpired()
		if c.items.ItemCount() >= c.maxEntries {
			c.items.Flush()
			observer.IncCacheCheck(c.clinicID, "dedup", "flush")
		}
	}
	c.items.SetDefault(externalMessageID, struct{}{})
}

// Len returns the current entry count, expired entries included until the
// next sweep.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Stats returns hit/miss counters since startup.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		Entries: c.items.ItemCount(),
	}
}

// Stats holds dedup cache counters.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
	Entries int
}
