package middleware

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/internal/platform/metrics"
	"github.com/nulzo/bot-router/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdleTTL is how long an unused client limiter is kept.
const DefaultLimiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter manages per client rate limiters keyed by client IP. The bot
// token is not verified yet at this point, so it cannot pick the bucket.
type RateLimiter struct {
	clients   map[string]*clientLimiter
	mu        sync.RWMutex
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	logger    *zap.Logger
}

func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		clients:   make(map[string]*clientLimiter),
		rps:       rate.Limit(rps),
		burst:     burst,
		idleTTL:   DefaultLimiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.RLock()
	entry, exists := rl.clients[key]
	rl.mu.RUnlock()

	if exists {
		entry.lastSeen.Store(now.UnixNano())
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}

	if entry, exists = rl.clients[key]; exists {
		entry.lastSeen.Store(now.UnixNano())
		return entry.limiter
	}

	entry = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
	entry.lastSeen.Store(now.UnixNano())
	rl.clients[key] = entry

	return entry.limiter
}

// sweep drops limiters idle for longer than idleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.idleTTL).UnixNano()
	for key, entry := range rl.clients {
		if entry.lastSeen.Load() < cutoff {
			delete(rl.clients, key)
		}
	}
	rl.lastSweep = now
}

// Middleware returns the Gin middleware handler. A non-positive rate
// disables limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if !rl.getLimiter(key).Allow() {
			metrics.RateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", key),
				zap.String("path", c.Request.URL.Path),
			)
			_ = c.Error(api.RateLimitError("rate limit exceeded"))
			c.Abort()
			return
		}

		c.Next()
	}
}
