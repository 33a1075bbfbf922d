// Package cache keeps recently finished scrape results so repeated requests
// for the same page and extraction settings skip the fetch.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/use-agent/harvest/models"
)

type entry struct {
	result   models.ScrapeResult
	storedAt time.Time
}

// Cache is a size-bounded LRU of scrape results with a hard TTL. Callers
// additionally pass a per-request max age on lookup.
type Cache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

// New creates a cache holding at most maxEntries results for at most ttl.
func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, entry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

// Key hashes the URL, the data type and the settings that change the
// extracted record (selectors, patterns, template, transform options).
func Key(rawURL, dataType string, settings any) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	h.Write([]byte{0})
	h.Write([]byte(dataType))
	h.Write([]byte{0})
	if settings != nil {
		// Map keys marshal sorted, so equal settings hash equally.
		b, err := json.Marshal(settings)
		if err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result if it is younger than maxAge.
func (c *Cache) Get(key string, maxAge time.Duration) (*models.ScrapeResult, bool) {
	if c == nil || maxAge <= 0 {
		return nil, false
	}
	e, ok := c.lru.Get(key)
	if !ok || c.now().Sub(e.storedAt) > maxAge {
		return nil, false
	}
	r := e.result
	return &r, true
}

// Set stores a successful result. Failed results are not cached.
func (c *Cache) Set(key string, r *models.ScrapeResult) {
	if c == nil || r == nil || !r.Success {
		return
	}
	c.lru.Add(key, entry{result: *r, storedAt: c.now()})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
