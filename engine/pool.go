package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/use-agent/harvest/proxy"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browser pool closed")

// Session is one headless browser bound to a proxy and a client identity.
// A session is checked out by exactly one caller at a time.
type Session struct {
	ID        int64
	Browser   *rod.Browser
	Page      *rod.Page
	Launcher  *launcher.Launcher
	ProxyKey  string
	UserAgent string

	created  time.Time
	useCount int
}

// Uses returns how many times the session has been checked out.
func (s *Session) Uses() int { return s.useCount }

// SessionFactory launches a browser configured for p (nil means direct)
// and the given user agent.
type SessionFactory func(ctx context.Context, p *proxy.Descriptor, userAgent string) (*Session, error)

// SessionDestroyer tears a session down. It must tolerate partially built
// sessions.
type SessionDestroyer func(s *Session)

// PoolConfig holds configuration for the browser pool.
type PoolConfig struct {
	// Capacity bounds the number of idle sessions kept for reuse.
	Capacity int
	// Prewarm creates Capacity direct sessions at construction.
	Prewarm bool
	// MaxUses and MaxAge retire sessions on release. Zero disables.
	MaxUses int
	MaxAge  time.Duration
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Idle       int   `json:"idle"`
	Capacity   int   `json:"capacity"`
	CheckedOut int64 `json:"checked_out"`
	Created    int64 `json:"created"`
	Destroyed  int64 `json:"destroyed"`
}

// BrowserPool keeps up to Capacity idle browser sessions. Capacity is a
// soft cap on reuse, not a concurrency limit: Acquire creates sessions on
// demand when none are idle, and Release destroys sessions that do not fit.
type BrowserPool struct {
	cfg        PoolConfig
	factory    SessionFactory
	destroyer  SessionDestroyer
	identities *IdentityRotator

	idle   chan *Session
	nextID atomic.Int64

	active    atomic.Int64
	created   atomic.Int64
	destroyed atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewBrowserPool creates the pool and, when cfg.Prewarm is set, launches
// Capacity sessions. Prewarm failures are logged and skipped.
func NewBrowserPool(ctx context.Context, cfg PoolConfig, factory SessionFactory, destroyer SessionDestroyer, identities *IdentityRotator) *BrowserPool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 3
	}
	if identities == nil {
		identities = NewIdentityRotator()
	}
	bp := &BrowserPool{
		cfg:        cfg,
		factory:    factory,
		destroyer:  destroyer,
		identities: identities,
		idle:       make(chan *Session, cfg.Capacity),
	}

	if cfg.Prewarm {
		for i := 0; i < cfg.Capacity; i++ {
			s, err := bp.create(ctx, nil)
			if err != nil {
				slog.Warn("browser_pool: failed to pre-create session", "error", err)
				continue
			}
			bp.idle <- s
		}
		slog.Info("browser_pool: prewarmed", "sessions", len(bp.idle), "capacity", cfg.Capacity)
	}
	return bp
}

// Acquire checks out a session. An idle session bound to a different proxy
// than p is destroyed and replaced, since proxies cannot be changed on a
// running browser. With no idle session a new one is created.
func (bp *BrowserPool) Acquire(ctx context.Context, p *proxy.Descriptor) (*Session, error) {
	bp.mu.RLock()
	closed := bp.closed
	bp.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var s *Session
	select {
	case s = <-bp.idle:
	default:
	}

	if s != nil && p != nil && s.ProxyKey != p.Key() {
		slog.Debug("browser_pool: proxy mismatch, replacing session",
			"id", s.ID, "have", s.ProxyKey, "want", p.Key())
		bp.destroy(s)
		s = nil
	}

	if s == nil {
		var err error
		if s, err = bp.create(ctx, p); err != nil {
			return nil, err
		}
	}

	s.useCount++
	bp.active.Add(1)
	return s, nil
}

// Release returns a healthy session. Sessions past their use or age limit,
// or that do not fit in the idle queue, are destroyed.
func (bp *BrowserPool) Release(s *Session) {
	if s == nil {
		return
	}
	bp.active.Add(-1)

	if bp.shouldRetire(s) {
		slog.Debug("browser_pool: retiring session", "id", s.ID, "uses", s.useCount)
		bp.destroy(s)
		return
	}

	bp.mu.RLock()
	defer bp.mu.RUnlock()
	if bp.closed {
		bp.destroy(s)
		return
	}
	select {
	case bp.idle <- s:
	default:
		bp.destroy(s)
	}
}

// Discard destroys a session that failed and must not be reused.
func (bp *BrowserPool) Discard(s *Session) {
	if s == nil {
		return
	}
	bp.active.Add(-1)
	bp.destroy(s)
}

// Shutdown destroys every idle session. Checked-out sessions are destroyed
// when released.
func (bp *BrowserPool) Shutdown() {
	bp.mu.Lock()
	bp.closed = true
	bp.mu.Unlock()

	n := 0
drainLoop:
	for {
		select {
		case s := <-bp.idle:
			bp.destroy(s)
			n++
		default:
			break drainLoop
		}
	}
	slog.Info("browser_pool: shut down", "destroyed", n, "checked_out", bp.active.Load())
}

// Idle returns the number of idle sessions.
func (bp *BrowserPool) Idle() int { return len(bp.idle) }

// Stats returns a counter snapshot.
func (bp *BrowserPool) Stats() PoolStats {
	return PoolStats{
		Idle:       len(bp.idle),
		Capacity:   bp.cfg.Capacity,
		CheckedOut: bp.active.Load(),
		Created:    bp.created.Load(),
		Destroyed:  bp.destroyed.Load(),
	}
}

func (bp *BrowserPool) create(ctx context.Context, p *proxy.Descriptor) (*Session, error) {
	ua := bp.identities.Next()
	s, err := bp.factory(ctx, p, ua)
	if err != nil {
		return nil, err
	}
	s.ID = bp.nextID.Add(1)
	s.ProxyKey = p.Key()
	s.UserAgent = ua
	s.created = time.Now()
	bp.created.Add(1)
	slog.Debug("browser_pool: created session", "id", s.ID, "proxy", s.ProxyKey)
	return s, nil
}

func (bp *BrowserPool) destroy(s *Session) {
	bp.destroyed.Add(1)
	if bp.destroyer != nil {
		bp.destroyer(s)
	}
}

func (bp *BrowserPool) shouldRetire(s *Session) bool {
	if bp.cfg.MaxUses > 0 && s.useCount >= bp.cfg.MaxUses {
		return true
	}
	if bp.cfg.MaxAge > 0 && time.Since(s.created) >= bp.cfg.MaxAge {
		return true
	}
	return false
}
