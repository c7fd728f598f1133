package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medsafar/supplychain/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration. Buckets untouched for
// IdleTTL are evicted; zero uses ten minutes.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	IdleTTL           time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

// bucket is a token bucket refilled lazily on each take.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// limiter keys one bucket per caller. All buckets share one mutex; a take
// is a few float operations.
type limiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	idleTTL time.Duration
	now     func() time.Time
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.BurstSize),
		idleTTL: ttl,
		now:     now,
		buckets: make(map[string]*bucket),
		swept:   now(),
	}
}

// take spends one token for key. It reports whether the request may
// proceed, the whole tokens left, and when denied the seconds until a
// token is available.
func (l *limiter) take(key string) (ok bool, remaining int, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= l.idleTTL {
		l.sweep(now)
	}

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if l.rate <= 0 {
		return false, 0, 1
	}
	return false, 0, int(math.Ceil((1 - b.tokens) / l.rate))
}

func (l *limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
	l.swept = now
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// callerKey identifies the caller: the authenticated account, else the
// client IP.
func callerKey(c echo.Context) string {
	if account := auth.AccountFromContext(c.Request().Context()); account != "" {
		return "account:" + strings.ToLower(account)
	}
	return "ip:" + c.RealIP()
}

// RateLimit throttles requests per caller account, or per client IP when
// the caller is anonymous. A non-positive rate disables limiting.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, now func() time.Time) echo.MiddlewareFunc {
	l := newLimiter(cfg, now)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cfg.RequestsPerSecond <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ok, remaining, retryAfter := l.take(callerKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
					"kind":  "RateLimited",
				})
			}
			return next(c)
		}
	}
}
