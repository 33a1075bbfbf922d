package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// idleLimiterTTL is how long an unused client limiter is kept.
const idleLimiterTTL = time.Hour

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client identity.
type clientLimiters struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	clients map[string]*clientLimiter
	now     func() time.Time
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	return &clientLimiters{cfg: cfg, clients: make(map[string]*clientLimiter), now: time.Now}
}

func (l *clientLimiters) get(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.clients[identity]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[identity] = cl
	}
	cl.lastSeen = l.now()
	return cl.limiter
}

// sweep drops limiters idle for longer than idleLimiterTTL.
func (l *clientLimiters) sweep() int {
	cutoff := l.now().Add(-idleLimiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, cl := range l.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(l.clients, id)
			n++
		}
	}
	return n
}

// RateLimit returns per-client token-bucket rate limiting. The client is
// the API key set by Auth, or the remote IP. Rejected requests get 429
// with a Retry-After hint.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := newClientLimiters(cfg)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiters.sweep()
		}
	}()

	return rateLimit(limiters)
}

func rateLimit(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString(ContextAPIKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		res := limiters.get(identity).Reserve()
		if !res.OK() || res.Delay() > 0 {
			wait := res.Delay()
			res.Cancel()
			if wait <= 0 || wait == rate.InfDuration {
				wait = time.Second
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}
		c.Next()
	}
}
