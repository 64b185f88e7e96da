package biz

import (
	"time"

	"CopilotLane/internal/data"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// availabilityCacheSize bounds the cache. Pools are small; this only guards
// against unbounded growth if accounts churn heavily.
const availabilityCacheSize = 256

// modelSet is the cached value. Held behind a pointer so MarkUnsupported can
// narrow an entry in place without touching its TTL.
type modelSet struct {
	models []string
}

// ModelAvailabilityCache is a time-bounded mapping from account id to the
// set of model identifiers known to work on that account. Entries are
// advisory: a miss means "fall back to the account's static allow-list".
type ModelAvailabilityCache struct {
	cache *expirable.LRU[string, *modelSet]
}

// NewModelAvailabilityCache creates a cache whose entries expire after ttl.
func NewModelAvailabilityCache(ttl time.Duration) *ModelAvailabilityCache {
	return &ModelAvailabilityCache{
		cache: expirable.NewLRU[string, *modelSet](availabilityCacheSize, nil, ttl),
	}
}

// Get returns the cached model list for the account, or (nil, false) when no
// unexpired entry exists.
func (c *ModelAvailabilityCache) Get(account *data.Account) ([]string, bool) {
	entry, ok := c.cache.Get(account.ID)
	if !ok {
		return nil, false
	}
	return entry.models, true
}

// Set inserts or overwrites the entry for the account with a fresh TTL.
func (c *ModelAvailabilityCache) Set(account *data.Account, models []string) {
	c.cache.Add(account.ID, &modelSet{models: append([]string(nil), models...)})
}

// MarkUnsupported removes one model from an existing cache entry. It never
// fabricates an entry for an account without one; static-list filtering
// already covers that case at the call site.
func (c *ModelAvailabilityCache) MarkUnsupported(account *data.Account, model string) {
	entry, ok := c.cache.Peek(account.ID)
	if !ok {
		return
	}
	filtered := entry.models[:0:0]
	for _, m := range entry.models {
		if m != model {
			filtered = append(filtered, m)
		}
	}
	entry.models = filtered
}

// Remove drops the entry for an account. Used when an account is removed
// from the pool.
func (c *ModelAvailabilityCache) Remove(account *data.Account) {
	c.cache.Remove(account.ID)
}
