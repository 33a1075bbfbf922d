package engine

import (
	"sync"
	"time"

	"github.com/use-agent/harvest/models"
)

// domainEntry stores the preferred fetch method for a domain with a TTL.
type domainEntry struct {
	method    models.Method
	reason    string
	expiresAt time.Time
}

// DomainMemory remembers which fetch method a domain needed. Entries
// expire after the configured TTL and are cleaned up periodically.
type DomainMemory struct {
	store sync.Map // domain (string) -> *domainEntry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewDomainMemory creates a DomainMemory with the given TTL and starts
// a background goroutine that prunes expired entries every hour.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	dm := &DomainMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go dm.cleanupLoop()
	return dm
}

// Get returns the remembered method for a domain and why it was recorded.
// ok is false when nothing is remembered or the entry expired.
func (dm *DomainMemory) Get(domain string) (m models.Method, reason string, ok bool) {
	if dm == nil || domain == "" {
		return "", "", false
	}
	val, found := dm.store.Load(domain)
	if !found {
		return "", "", false
	}
	entry := val.(*domainEntry)
	if time.Now().After(entry.expiresAt) {
		dm.store.Delete(domain)
		return "", "", false
	}
	return entry.method, entry.reason, true
}

// Set records the method a domain needs.
func (dm *DomainMemory) Set(domain string, m models.Method, reason string) {
	if dm == nil || domain == "" {
		return
	}
	dm.store.Store(domain, &domainEntry{
		method:    m,
		reason:    reason,
		expiresAt: time.Now().Add(dm.ttl),
	})
}

// Delete removes the memory for a domain (e.g. after the remembered method fails).
func (dm *DomainMemory) Delete(domain string) {
	if dm == nil {
		return
	}
	dm.store.Delete(domain)
}

// Len counts live entries.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	n := 0
	now := time.Now()
	dm.store.Range(func(_, value any) bool {
		if now.Before(value.(*domainEntry).expiresAt) {
			n++
		}
		return true
	})
	return n
}

// Stop terminates the background cleanup goroutine.
func (dm *DomainMemory) Stop() {
	if dm == nil {
		return
	}
	dm.once.Do(func() { close(dm.done) })
}

// cleanupLoop runs every hour, deleting expired entries.
func (dm *DomainMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			now := time.Now()
			dm.store.Range(func(key, value any) bool {
				entry := value.(*domainEntry)
				if now.After(entry.expiresAt) {
					dm.store.Delete(key)
				}
				return true
			})
		}
	}
}
