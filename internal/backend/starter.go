package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/subprocess"
)

// Starter brings the backend up when it is not reachable.
type Starter interface {
	Start(ctx context.Context) error
	Stop() error
}

// Pinger is the reachability probe used while waiting for a started backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProcessStarter runs "<binary> serve" and polls the backend until it answers.
type ProcessStarter struct {
	binary       string
	pinger       Pinger
	logger       core.Logger
	pollInterval time.Duration
	pollAttempts int
	lookPath     func(file string) (string, error)
	command      func(name string, args ...string) *exec.Cmd

	mu   sync.Mutex
	proc *subprocess.Managed
}

// NewProcessStarter creates a starter for the given backend binary.
func NewProcessStarter(binary string, pinger Pinger, logger core.Logger) *ProcessStarter {
	if binary == "" {
		binary = core.DefaultOllamaBinary
	}
	return &ProcessStarter{
		binary:       binary,
		pinger:       pinger,
		logger:       logger,
		pollInterval: core.BackendStartPollInterval,
		pollAttempts: core.BackendStartPollAttempts,
		lookPath:     exec.LookPath,
		command:      exec.Command,
	}
}

// Start launches the backend unless it already answers, then waits for readiness.
func (s *ProcessStarter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ping(ctx) == nil {
		return nil
	}
	if s.proc != nil && !s.proc.Exited() {
		return s.waitReady(ctx, s.proc)
	}

	path, err := s.lookPath(s.binary)
	if err != nil {
		return fmt.Errorf("%w: %s not found: %v", core.ErrBackendUnavailable, s.binary, err)
	}

	s.logger.Info("Starting backend: %s serve", path)
	proc, err := subprocess.Start(s.command(path, "serve"), false)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrBackendUnavailable, err)
	}
	s.proc = proc

	if err := s.waitReady(ctx, proc); err != nil {
		_ = proc.Stop(core.ProcessStopGracePeriod)
		s.proc = nil
		return err
	}
	s.logger.Info("Backend started (pid %d)", proc.Pid())
	return nil
}

func (s *ProcessStarter) waitReady(ctx context.Context, proc *subprocess.Managed) error {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proc.Done():
			return fmt.Errorf("%w: backend exited during startup: %v; stderr tail: %s",
				core.ErrBackendUnavailable, proc.ExitErr(), strings.TrimSpace(proc.StderrTail()))
		case <-time.After(s.pollInterval):
		}
		if err := s.ping(ctx); err == nil {
			return nil
		}
		s.logger.Debug("Waiting for backend (%d/%d)", attempt, s.pollAttempts)
	}
	return fmt.Errorf("%w: backend not ready after %d attempts", core.ErrBackendUnavailable, s.pollAttempts)
}

func (s *ProcessStarter) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, core.BackendPingTimeout)
	defer cancel()
	return s.pinger.Ping(pingCtx)
}

// Stop terminates a backend this starter launched. A backend that was already running is left alone.
func (s *ProcessStarter) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	s.logger.Info("Stopping backend (pid %d)", proc.Pid())
	return proc.Stop(core.ProcessStopGracePeriod)
}
