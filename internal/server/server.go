package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ollama2api/internal/backend"
	"ollama2api/internal/cache"
	"ollama2api/internal/config"
	"ollama2api/internal/core"
	"ollama2api/internal/metrics"
	"ollama2api/internal/modelmgr"
	"ollama2api/internal/process"

	"github.com/gin-gonic/gin"
)

// TunnelStatus is the read side of the tunnel orchestrator shown on /health and /api/stats.
type TunnelStatus interface {
	State() core.TunnelState
	Addr() string
	Strategy() string
}

// Server application server
type Server struct {
	ginMode string

	backend core.Backend
	router  *gin.Engine

	cache          *cache.CacheService
	metricsService *metrics.Service

	models       *modelmgr.ModelCell
	modelsConfig core.ModelsConfig

	requestProcessor *process.RequestProcessor

	config config.ServerConfig
	logger core.Logger

	rateLimiter *rateLimiter
	tunnel      TunnelStatus
}

// NewServer creates a new server instance. starter may be nil when autostart is disabled.
func NewServer(cfg config.ServerConfig, be core.Backend, starter backend.Starter, models *modelmgr.ModelCell) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required in ServerConfig")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required in ServerConfig")
	}
	if be == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if models == nil {
		models = modelmgr.NewModelCell(cfg.ModelName)
	}

	modelsConfig := core.ModelsConfig{Models: map[string]string{}}
	if cfg.ModelsConfigPath != "" {
		loaded, err := config.LoadModelsConfig(cfg.ModelsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models config: %w", err)
		}
		modelsConfig = loaded
		cfg.Logger.Info("Loaded %d model aliases from %s", len(modelsConfig.Models), cfg.ModelsConfigPath)
	}

	cacheService := cache.NewCacheService()

	metricsService := metrics.NewService(metrics.Config{
		SaveInterval: core.StatsSaveInterval,
		Storage:      cfg.Storage,
		Logger:       cfg.Logger,
	})

	if err := metricsService.LoadStats(); err != nil {
		cfg.Logger.Warn("Failed to load historical stats: %v", err)
	}

	processor := process.NewRequestProcessor(process.Options{
		AliasPrefixes: cfg.AliasPrefixes,
		Aliases:       modelsConfig.Models,
		APIMode:       cfg.APIMode,
	}, be, starter, cacheService, metricsService, cfg.Logger)

	server := &Server{
		ginMode:          cfg.GinMode,
		backend:          be,
		cache:            cacheService,
		metricsService:   metricsService,
		models:           models,
		modelsConfig:     modelsConfig,
		requestProcessor: processor,
		config:           cfg,
		logger:           cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		server.rateLimiter = newRateLimiter(cfg.RateLimit)
		cfg.Logger.Info("Rate limit: %d requests per minute per client", cfg.RateLimit)
	}

	server.setupRoutes()

	return server, nil
}

// SetTunnel attaches the tunnel status reported by /health and /api/stats.
func (s *Server) SetTunnel(t TunnelStatus) {
	s.tunnel = t
}

// Handler returns the gin engine.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on ln until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: core.ServerReadHeaderTimeout,
		ReadTimeout:       core.ServerReadTimeout,
		WriteTimeout:      core.ServerWriteTimeout, // SSE streams need longer timeout
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("Server listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), core.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	resp := gin.H{"status": "healthy", "model": s.models.Load()}
	if s.tunnel != nil {
		resp["tunnel"] = s.tunnel.State().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  core.StatusOK,
		"version": core.StatusVersion,
		"message": core.StatusMessage,
	})
}

func (s *Server) getStatsData(c *gin.Context) {
	usage := s.metricsService.Snapshot()

	tunnelInfo := gin.H{"state": core.TunnelIdle.String()}
	if s.tunnel != nil {
		tunnelInfo = gin.H{
			"state":    s.tunnel.State().String(),
			"strategy": s.tunnel.Strategy(),
			"addr":     s.tunnel.Addr(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"currentTime":        time.Now().Format(core.TimeFormatDateTime),
		"currentQPS":         fmt.Sprintf("%.3f", s.metricsService.RequestsPerSecond()),
		"totalRequests":      usage.TotalRequests,
		"successfulRequests": usage.SuccessfulRequests,
		"failedRequests":     usage.FailedRequests,
		"streamRequests":     usage.StreamRequests,
		"lastRequestTime":    usage.LastRequestTime,
		"models":             s.metricsService.ModelSummaries(),
		"model":              s.models.Load(),
		"apiMode":            string(s.config.APIMode),
		"tunnel":             tunnelInfo,
	})
}

// Close closes the server
func (s *Server) Close() error {
	var closeErr error

	if s.rateLimiter != nil {
		s.rateLimiter.stop()
	}

	if s.metricsService != nil {
		if err := s.metricsService.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close metrics service: %w", err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close cache service: %w", err))
		}
	}

	return closeErr
}
