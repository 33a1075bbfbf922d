package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/use-agent/harvest/config"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(h ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(h...)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextAPIKey)) })
	return r
}

func do(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := serve(Auth([]string{"k1", " k2 "}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"x-api-key", "X-API-Key", "k1", http.StatusOK},
		{"bearer", "Authorization", "Bearer k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.header, tt.value)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
			}
		})
	}
}

func TestAuth_NoKeysIsOpen(t *testing.T) {
	assert.Equal(t, http.StatusOK, do(serve(Auth(nil)), "", "").Code)
}

func TestRateLimit(t *testing.T) {
	limiters := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 2})
	r := serve(rateLimit(limiters))

	assert.Equal(t, http.StatusOK, do(r, "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "", "").Code)
	w := do(r, "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestRateLimit_PerAPIKey(t *testing.T) {
	limiters := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 0.1, Burst: 1})
	r := serve(Auth([]string{"a", "b"}), rateLimit(limiters))

	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusOK, do(r, "X-API-Key", "b").Code, "keys have separate buckets")
}

func TestClientLimiters_Sweep(t *testing.T) {
	l := newClientLimiters(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }
	l.get("old")
	now = now.Add(2 * time.Hour)
	l.get("fresh")

	assert.Equal(t, 1, l.sweep())
	assert.Len(t, l.clients, 1)
}
