package engine

import "sync/atomic"

// DefaultUserAgents is the built-in pool of synthetic client identities.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// IdentityRotator hands out user-agent strings round-robin. Two consecutive
// calls return different identities unless the pool has a single entry.
type IdentityRotator struct {
	agents []string
	next   atomic.Uint64
}

// NewIdentityRotator creates a rotator over agents, or DefaultUserAgents
// when agents is empty.
func NewIdentityRotator(agents ...string) *IdentityRotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	cp := make([]string, len(agents))
	copy(cp, agents)
	return &IdentityRotator{agents: cp}
}

// Next returns the next identity.
func (r *IdentityRotator) Next() string {
	i := r.next.Add(1) - 1
	return r.agents[i%uint64(len(r.agents))]
}

// Len returns the pool size.
func (r *IdentityRotator) Len() int { return len(r.agents) }
