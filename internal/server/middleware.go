package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"ollama2api/internal/core"

	"github.com/gin-gonic/gin"
)

func (s *Server) maxBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, core.MaxRequestBodySize)
		c.Next()
	}
}

// requestLogMiddleware routes access logs through core.Logger instead of gin's own writer.
func (s *Server) requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Warn("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, elapsed)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			s.logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, elapsed)
		default:
			s.logger.Info("%s %s %d %v", c.Request.Method, c.Request.URL.Path, status, elapsed)
		}
	}
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("Panic in handler: %v", recovered)
	s.metricsService.RecordPanic()
	if c.Writer.Written() {
		c.Abort()
		return
	}
	respondWithOpenAIError(c, http.StatusInternalServerError, core.ErrorTypeAPI, "internal server error")
	c.Abort()
}

type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitorInfo
	rate     int
	cleanup  time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

type visitorInfo struct {
	count    int
	lastSeen time.Time
}

func newRateLimiter(ratePerMinute int) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitorInfo),
		rate:     ratePerMinute,
		cleanup:  5 * time.Minute,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastSeen) > time.Minute {
		rl.visitors[ip] = &visitorInfo{count: 1, lastSeen: time.Now()}
		return true
	}
	v.count++
	v.lastSeen = time.Now()
	return v.count <= rl.rate
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.allow(c.ClientIP()) {
			respondWithOpenAIError(c, http.StatusTooManyRequests, core.ErrorTypeRateLimit, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Clients may send an API key (any value, conventionally "ollama"); it is accepted but never checked.
var allowHeaders = strings.Join([]string{core.HeaderContentType, core.HeaderAuthorization, core.HeaderXAPIKey}, ", ")

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowOrigin := s.config.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Max-Age", core.CORSMaxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
