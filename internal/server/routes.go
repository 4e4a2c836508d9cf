package server

import (
	"fmt"
	"net/http"

	"ollama2api/internal/core"
	"ollama2api/internal/metrics"

	"github.com/gin-gonic/gin"
)

func (s *Server) setupRoutes() {
	gin.SetMode(s.ginMode)
	s.router = gin.New()

	s.router.Use(s.requestLogMiddleware())
	s.router.Use(metrics.PrometheusMiddleware())
	s.router.Use(gin.CustomRecovery(s.recoverPanic))
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.maxBodySizeMiddleware())
	if s.rateLimiter != nil {
		s.router.Use(s.rateLimitMiddleware())
	}

	s.router.GET("/", s.status)
	s.router.GET("/v1", s.status)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/api/stats", s.getStatsData)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	// Unversioned aliases are kept for clients that drop the /v1 prefix.
	for _, prefix := range []string{"/v1", ""} {
		s.router.GET(prefix+"/models", s.listModels)
		s.router.POST(prefix+"/chat/completions", s.chatCompletions)
	}

	s.router.NoRoute(func(c *gin.Context) {
		respondWithOpenAIError(c, http.StatusNotFound, core.ErrorTypeNotFound,
			fmt.Sprintf("Endpoint not found: %s", c.Request.URL.Path))
	})
}
