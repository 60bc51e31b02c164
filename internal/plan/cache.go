package plan

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"fitme-tracker/internal/storage"
)

const keyPlanCache = "mealPlans"

// DefaultCacheTTL is how long a cached weekly plan stays valid.
const DefaultCacheTTL = 12 * time.Hour

// cacheEntry pairs the cached plans with their expiry instant.
type cacheEntry struct {
	Data   map[string]Plan `json:"data"`
	Expiry time.Time       `json:"expiry"`
}

// Cache holds generated weekly plans (keyed by day name) with a fixed
// time-to-live. Expired entries are deleted on read.
type Cache struct {
	mu  sync.Mutex
	kv  *storage.UserScoped
	ttl time.Duration
	now func() time.Time
}

// NewCache creates a plan cache with the default TTL.
func NewCache(kv *storage.UserScoped) *Cache {
	return &Cache{kv: kv, ttl: DefaultCacheTTL, now: time.Now}
}

// SetClock overrides the cache's time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Put stores the plans with an expiry of now + TTL.
func (c *Cache) Put(plans map[string]Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{Data: plans, Expiry: c.now().Add(c.ttl)}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal plan cache: %v", err)
		return
	}
	if err := c.kv.Set(keyPlanCache, string(data)); err != nil {
		log.Printf("Failed to persist plan cache: %v", err)
	}
}

// Get returns the cached plans, or ok=false when nothing valid is
// stored. An expired entry is removed before reporting absence.
func (c *Cache) Get() (map[string]Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.kv.Get(keyPlanCache)
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.Printf("Malformed plan cache, discarding: %v", err)
		c.kv.Remove(keyPlanCache)
		return nil, false
	}
	if c.now().After(entry.Expiry) {
		c.kv.Remove(keyPlanCache)
		return nil, false
	}
	return entry.Data, true
}

// Clear removes the cache entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv.Remove(keyPlanCache)
}
