package middleware

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter allows one request per client per limit window. Clients are
// identified by the X-Client-ID header, falling back to the remote address.
type RateLimiter struct {
	clients map[string]time.Time
	mu      sync.Mutex
	limit   time.Duration
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]time.Time),
		limit:   limit,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(ClientID(c)) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": ErrRateLimited.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Allow records a request from clientID and reports whether it fits the window.
func (r *RateLimiter) Allow(clientID string) bool {
	if r.limit <= 0 {
		return true
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.clients[clientID]; ok && now.Sub(last) < r.limit {
		return false
	}
	r.clients[clientID] = now
	r.evictLocked(now)
	return true
}

func ClientID(c *gin.Context) string {
	if id := c.GetHeader("X-Client-ID"); id != "" {
		return id
	}
	return c.ClientIP()
}

// evictLocked drops clients idle for more than a few windows so the map stays bounded.
func (r *RateLimiter) evictLocked(now time.Time) {
	if len(r.clients) < 1024 {
		return
	}
	for id, last := range r.clients {
		if now.Sub(last) > 10*r.limit {
			delete(r.clients, id)
		}
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
