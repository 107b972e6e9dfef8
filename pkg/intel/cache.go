package intel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	localCacheTTL  = 5 * time.Minute
	cacheKeyPrefix = "cti:intel:"
)

type cacheEntry struct {
	event  models.ThreatEvent
	stored time.Time
}

// Cache remembers provider results per (provider, indicator). A local map
// sits in front of the optional redis client.
type Cache struct {
	redis    *redis.Client
	ttl      time.Duration
	localTTL time.Duration
	local    sync.Map // key -> cacheEntry

	hits   uint64
	misses uint64
}

// NewCache creates a cache. redisClient may be nil for a local-only cache.
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	localTTL := localCacheTTL
	if ttl < localTTL {
		localTTL = ttl
	}
	return &Cache{redis: redisClient, ttl: ttl, localTTL: localTTL}
}

func cacheKey(provider, indicator string) string {
	return cacheKeyPrefix + provider + ":" + indicator
}

// Get returns a cached result.
func (c *Cache) Get(ctx context.Context, provider, indicator string) (models.ThreatEvent, bool) {
	key := cacheKey(provider, indicator)

	// Check local cache first
	if val, ok := c.local.Load(key); ok {
		entry := val.(cacheEntry)
		if time.Since(entry.stored) < c.localTTL {
			atomic.AddUint64(&c.hits, 1)
			return entry.event, true
		}
		c.local.Delete(key)
	}

	// Check Redis
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var ev models.ThreatEvent
			if err := json.Unmarshal(raw, &ev); err == nil {
				c.local.Store(key, cacheEntry{event: ev, stored: time.Now()})
				atomic.AddUint64(&c.hits, 1)
				return ev, true
			}
		} else if err != redis.Nil {
			logger.Debug("[cache] redis get %s: %v", key, err)
		}
	}

	atomic.AddUint64(&c.misses, 1)
	return models.ThreatEvent{}, false
}

// Put stores a result.
func (c *Cache) Put(ctx context.Context, provider, indicator string, ev models.ThreatEvent) {
	key := cacheKey(provider, indicator)
	c.local.Store(key, cacheEntry{event: ev, stored: time.Now()})

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Warn("[cache] redis set %s: %v", key, err)
	}
}

// Stats returns current statistics.
func (c *Cache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"redis":  c.redis != nil,
		"hits":   atomic.LoadUint64(&c.hits),
		"misses": atomic.LoadUint64(&c.misses),
	}
}
