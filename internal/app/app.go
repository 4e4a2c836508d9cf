package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"

	"ollama2api/internal/backend"
	"ollama2api/internal/config"
	"ollama2api/internal/core"
	"ollama2api/internal/modelmgr"
	"ollama2api/internal/server"
	"ollama2api/internal/tunnel"
)

// App is a started proxy: backend checked, model resolved, listener bound, tunnel attempted.
type App struct {
	cfg      config.ServerConfig
	logger   core.Logger
	starter  *backend.ProcessStarter
	server   *server.Server
	listener net.Listener
	tunnel   *tunnel.Orchestrator
	cleanup  []func() error
}

// StrategyFactory builds the ordered tunnel candidates for a spec.
type StrategyFactory func(spec core.TunnelSpec, logger core.Logger) []tunnel.Strategy

// DefaultStrategies returns the platform candidates for spec.
func DefaultStrategies(spec core.TunnelSpec, logger core.Logger) []tunnel.Strategy {
	return tunnel.Candidates(spec, runtime.GOOS, logger)
}

// Run starts the proxy and serves until ctx is cancelled. Everything acquired is released before it returns.
func Run(ctx context.Context, cfg config.ServerConfig) error {
	a, err := New(ctx, cfg, DefaultStrategies)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			cfg.Logger.Warn("Shutdown finished with errors: %v", closeErr)
		}
	}()
	return a.Serve(ctx)
}

// New performs the ordered startup. On error every resource acquired so far is released
// and the proxy port is never left bound.
func New(ctx context.Context, cfg config.ServerConfig, strategies StrategyFactory) (_ *App, err error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	a := &App{cfg: cfg, logger: cfg.Logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	client := backend.NewClient(cfg.OllamaURL, backend.NewHTTPClient(cfg.HTTPClientSettings), cfg.Logger).
		WithIdleTimeout(cfg.HTTPClientSettings.RequestTimeout)

	var starter backend.Starter
	if cfg.AutoStart {
		a.starter = backend.NewProcessStarter(cfg.OllamaBinary, client, cfg.Logger)
		a.onClose(a.starter.Stop)
		starter = a.starter
	}
	if err := ensureBackend(ctx, client, starter, cfg); err != nil {
		return nil, err
	}

	manager := modelmgr.NewManager(client, modelmgr.ConfigSelector{Configured: cfg.ModelName, Fallback: core.DefaultModelName}, cfg.Logger)
	model, err := manager.ResolveModel(ctx, cfg.ModelName)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Info("Serving model %s", model)

	srv, err := server.NewServer(cfg, client, starter, modelmgr.NewModelCell(model))
	if err != nil {
		return nil, err
	}
	a.server = srv
	a.onClose(srv.Close)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}
	a.listener = ln
	a.onClose(func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	spec := cfg.Tunnel
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		spec.LocalPort = tcp.Port
	}
	var candidates []tunnel.Strategy
	if strategies != nil {
		candidates = strategies(spec, cfg.Logger)
	}
	a.tunnel = tunnel.NewOrchestrator(spec, candidates, cfg.Logger)
	a.onClose(a.tunnel.Close)
	if err := a.tunnel.Start(ctx); err != nil {
		cfg.Logger.Warn("Tunnel unavailable, serving on %s only: %v", ln.Addr(), err)
	} else if addr := a.tunnel.Addr(); addr != "" {
		cfg.Logger.Info("Proxy reachable at %s via %s", addr, a.tunnel.Strategy())
	}
	srv.SetTunnel(a.tunnel)

	return a, nil
}

func ensureBackend(ctx context.Context, client *backend.Client, starter backend.Starter, cfg config.ServerConfig) error {
	pingCtx, cancel := context.WithTimeout(ctx, core.BackendPingTimeout)
	err := client.Ping(pingCtx)
	cancel()
	if err == nil {
		return nil
	}
	if starter == nil {
		return fmt.Errorf("backend at %s is not reachable and autostart is disabled: %w", cfg.OllamaURL, err)
	}
	cfg.Logger.Warn("Backend at %s not reachable, starting %s", cfg.OllamaURL, cfg.OllamaBinary)
	if err := starter.Start(ctx); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	return nil
}

func (a *App) onClose(fn func() error) {
	a.cleanup = append(a.cleanup, fn)
}

// Addr is the bound proxy address.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Tunnel exposes the orchestrator state.
func (a *App) Tunnel() *tunnel.Orchestrator {
	return a.tunnel
}

// Serve blocks until ctx is cancelled or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	return a.server.Serve(ctx, a.listener)
}

// Close releases resources in reverse acquisition order: tunnel, listener, server, backend process.
func (a *App) Close() error {
	var closeErr error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	a.cleanup = nil
	return closeErr
}
