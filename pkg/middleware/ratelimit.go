package middleware

import (
	"sync"
	"time"

	"loyalty-checkin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per authenticated user, falling back
// to the client IP.
type UserRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	r       rate.Limit
	b       int
	idle    time.Duration
	now     func() time.Time
}

func NewUserRateLimiter(rps float64, burst int) *UserRateLimiter {
	return &UserRateLimiter{
		entries: make(map[string]*limiterEntry),
		r:       rate.Limit(rps),
		b:       burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (l *UserRateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b), lastSeen: now}
		l.entries[key] = e
		l.evictLocked(now)
	}
	e.lastSeen = now
	return e.limiter
}

func (l *UserRateLimiter) evictLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, k)
		}
	}
}

func (l *UserRateLimiter) Allow(key string) bool {
	return l.limiter(key).AllowN(l.now(), 1)
}

func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			Abort(c, errutil.TooManyRequest("too many requests", nil))
			return
		}
		c.Next()
	}
}
