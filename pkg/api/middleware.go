package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Paths served without credentials
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/live":    true,
	"/metrics": true,
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Error()
		} else if publicPaths[c.Request.URL.Path] {
			evt = logger.Debug()
		}

		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Bool("authenticated", SessionFrom(c).Authenticated).
			Msg("Admin request")
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.AdminRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		timer.ObserveDurationVec(metrics.AdminRequestDuration, route)
	}
}

// AdminSession is the credential verified for one admin request. It lives
// only in the request context.
type AdminSession struct {
	Authenticated bool
	Scheme        string
}

const sessionKey = "burrow.admin_session"

// SessionFrom returns the session the auth gate attached to c. Requests that
// never reached the gate get the zero session.
func SessionFrom(c *gin.Context) AdminSession {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(AdminSession); ok {
			return s
		}
	}
	return AdminSession{}
}

// authGate rejects requests whose Authorization header is not exactly
// "<scheme> <token>" with token equal to key. It runs for unmatched routes
// too, so an unauthenticated caller learns nothing about the route table.
func authGate(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || publicPaths[c.Request.URL.Path] {
			c.Set(sessionKey, AdminSession{})
			c.Next()
			return
		}

		fields := strings.Fields(c.GetHeader("Authorization"))
		if len(fields) != 2 || subtle.ConstantTimeCompare([]byte(fields[1]), []byte(key)) != 1 {
			abortWithError(c, http.StatusUnauthorized, kindUnauthorized, "missing or invalid credentials")
			return
		}
		c.Set(sessionKey, AdminSession{Authenticated: true, Scheme: fields[0]})
		c.Next()
	}
}

// rateLimiter keeps one token bucket per client IP
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// Beyond this many tracked clients the table is reset
const maxTrackedClients = 10000

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[client]
	if !ok {
		if len(rl.limiters) >= maxTrackedClients {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[client] = limiter
	}
	return limiter.Allow()
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP()) {
			abortWithError(c, http.StatusTooManyRequests, kindRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}
