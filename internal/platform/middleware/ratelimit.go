package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// staleAfter is how long an idle client keeps its bucket before a sweep
// reclaims it.
const staleAfter = 10 * time.Minute

// bucket tracks one client's remaining request budget. Guarded by the
// limiter's mutex.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// ipLimiter is a token-bucket limiter keyed by client IP. Buckets refill
// continuously at rps up to burst; a request costs one token.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rps     float64
	burst   float64
	now     func() time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*bucket),
		rps:     rps,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// take spends one token for the client. When the budget is exhausted it
// returns false plus the whole seconds until a token becomes available.
func (l *ipLimiter) take(ip string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[ip]
	if !ok {
		b = &bucket{tokens: l.burst}
		l.clients[ip] = b
		l.sweep(now)
	} else {
		b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.rps)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		if l.rps <= 0 {
			return false, 1
		}
		return false, int(math.Ceil((1 - b.tokens) / l.rps))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets idle past staleAfter. Called under the mutex when a
// new client shows up, so steady traffic never pays for it.
func (l *ipLimiter) sweep(now time.Time) {
	for ip, b := range l.clients {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(l.clients, ip)
		}
	}
}

// RateLimit limits each client IP to rps requests per second with the given
// burst allowance. Rejected requests get a 429 with a Retry-After hint.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	limiter := newIPLimiter(rps, burst)
	limit := strconv.FormatFloat(rps, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			ok, retryAfter := limiter.take(c.RealIP())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
