package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrNoProxies is returned by a provider with nothing to hand out.
var ErrNoProxies = errors.New("proxy: no proxies available")

// Provider hands out the next proxy to use after a failed attempt.
type Provider interface {
	Next(ctx context.Context) (*Descriptor, error)
}

// Strategy selects how a Rotator picks the next descriptor.
type Strategy string

const (
	StrategyRoundRobin    Strategy = "round_robin"
	StrategyRandom        Strategy = "random"
	StrategyLeastFailures Strategy = "least_failures"
)

// Rotator is an in-memory Provider over a fixed descriptor list.
type Rotator struct {
	strategy Strategy
	next     atomic.Uint64

	mu      sync.RWMutex
	proxies []*Descriptor
}

// NewRotator returns a Rotator. Unknown strategies fall back to round robin.
func NewRotator(strategy Strategy, proxies ...*Descriptor) *Rotator {
	switch strategy {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastFailures:
	default:
		strategy = StrategyRoundRobin
	}
	return &Rotator{strategy: strategy, proxies: proxies}
}

// ParseList builds descriptors from raw proxy URLs, failing on the first
// malformed entry.
func ParseList(raws []string) ([]*Descriptor, error) {
	out := make([]*Descriptor, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Add appends descriptors to the rotation.
func (r *Rotator) Add(ds ...*Descriptor) {
	r.mu.Lock()
	r.proxies = append(r.proxies, ds...)
	r.mu.Unlock()
}

// Len returns the number of descriptors in rotation.
func (r *Rotator) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}

// All returns the descriptors in rotation.
func (r *Rotator) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.proxies))
	copy(out, r.proxies)
	return out
}

// Next implements Provider.
func (r *Rotator) Next(ctx context.Context) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.proxies)
	if n == 0 {
		return nil, ErrNoProxies
	}

	switch r.strategy {
	case StrategyRandom:
		return r.proxies[rand.IntN(n)], nil
	case StrategyLeastFailures:
		return r.healthiest(), nil
	default:
		idx := r.next.Add(1) - 1
		return r.proxies[idx%uint64(n)], nil
	}
}

// healthiest prefers the highest success rate, then fewest failures, then
// list order. Untried proxies rank as perfectly healthy.
func (r *Rotator) healthiest() *Descriptor {
	best := r.proxies[0]
	bestRate, bestFail := score(best)
	for _, d := range r.proxies[1:] {
		rate, fail := score(d)
		if rate > bestRate || (rate == bestRate && fail < bestFail) {
			best, bestRate, bestFail = d, rate, fail
		}
	}
	return best
}

func score(d *Descriptor) (float64, uint64) {
	s := d.Stats()
	if s.SuccessCount+s.FailureCount == 0 {
		return 1, 0
	}
	return s.SuccessRate(), s.FailureCount
}

// Static is a Provider that always returns the same descriptor.
type Static struct{ D *Descriptor }

// Next implements Provider.
func (s Static) Next(ctx context.Context) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.D == nil {
		return nil, ErrNoProxies
	}
	return s.D, nil
}

// String describes the rotator for logs.
func (r *Rotator) String() string {
	return fmt.Sprintf("rotator(%s, %d proxies)", r.strategy, r.Len())
}
