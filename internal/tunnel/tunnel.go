// Package tunnel makes the local proxy reachable from outside by trying transport strategies in order.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/metrics"
)

// Handle is a live tunnel. Done is closed when the tunnel drops.
type Handle interface {
	Addr() string
	Done() <-chan struct{}
	Close() error
}

// Strategy establishes one kind of tunnel. On failure it must release whatever it acquired.
type Strategy interface {
	Name() string
	Establish(ctx context.Context) (Handle, error)
}

// Outcome is the result of one attempt: exactly one of Handle and Err is set.
type Outcome struct {
	Handle Handle
	Err    error
}

// Orchestrator walks the candidate strategies and keeps the winner alive.
type Orchestrator struct {
	spec       core.TunnelSpec
	strategies []Strategy
	logger     core.Logger

	mu      sync.Mutex
	state   core.TunnelState
	handle  Handle
	active  Strategy
	lastErr error
	closed  bool
	cancel  context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewOrchestrator creates an orchestrator. Zero timing fields in spec get the defaults.
func NewOrchestrator(spec core.TunnelSpec, strategies []Strategy, logger core.Logger) *Orchestrator {
	if spec.AttemptTimeout <= 0 {
		spec.AttemptTimeout = core.DefaultTunnelAttemptTimeout
	}
	if spec.MaxReconnects < 0 {
		spec.MaxReconnects = 0
	}
	if spec.ReconnectBackoff <= 0 {
		spec.ReconnectBackoff = core.DefaultTunnelBackoff
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	o := &Orchestrator{spec: spec, strategies: strategies, logger: logger}
	metrics.SetTunnelState(core.TunnelIdle)
	return o
}

// Start tries each strategy in order until one succeeds. It returns an error when all of them fail;
// the orchestrator is then Failed and the proxy stays loopback-only.
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.strategies) == 0 {
		o.logger.Info("Tunnel disabled, serving on loopback only")
		return nil
	}

	var errs []error
	for i, s := range o.strategies {
		if o.isClosed() {
			return errors.New("tunnel orchestrator closed")
		}
		o.setState(core.TunnelAttempting)
		o.logger.Info("Tunnel attempt %d/%d: %s", i+1, len(o.strategies), s.Name())

		out := o.attempt(ctx, s)
		if out.Err == nil {
			if !o.adopt(s, out.Handle) {
				_ = out.Handle.Close()
				return errors.New("tunnel orchestrator closed")
			}
			o.logger.Info("Tunnel established via %s: %s", s.Name(), out.Handle.Addr())
			o.startWatcher(ctx, s, out.Handle)
			return nil
		}

		o.logger.Warn("Tunnel strategy %s failed: %v", s.Name(), out.Err)
		errs = append(errs, out.Err)
		if ctx.Err() != nil {
			break
		}
	}

	err := errors.Join(errs...)
	o.fail(err)
	return fmt.Errorf("all tunnel strategies failed: %w", err)
}

// attempt runs one strategy under the per-attempt timeout.
func (o *Orchestrator) attempt(ctx context.Context, s Strategy) Outcome {
	actx, cancel := context.WithTimeout(ctx, o.spec.AttemptTimeout)
	defer cancel()

	h, err := s.Establish(actx)
	if err == nil && h == nil {
		err = core.NewTunnelError(s.Name(), core.ErrTunnelConnect, errors.New("strategy returned no handle"))
	}
	if err != nil {
		metrics.IncTunnelAttempt(s.Name(), "failure")
		return Outcome{Err: err}
	}
	metrics.IncTunnelAttempt(s.Name(), "success")
	return Outcome{Handle: h}
}

func (o *Orchestrator) adopt(s Strategy, h Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.handle = h
	o.active = s
	o.lastErr = nil
	o.setStateLocked(core.TunnelEstablished)
	return true
}

func (o *Orchestrator) startWatcher(ctx context.Context, s Strategy, h Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.wg.Add(1)
	go o.watch(wctx, s, h)
}

// watch reconnects the same strategy when its handle drops.
func (o *Orchestrator) watch(ctx context.Context, s Strategy, h Handle) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
		}

		o.logger.Warn("Tunnel via %s dropped", s.Name())
		_ = h.Close()
		o.mu.Lock()
		if o.handle == h {
			o.handle = nil
		}
		o.mu.Unlock()

		next, err := o.reconnect(ctx, s)
		if err != nil {
			if ctx.Err() == nil {
				o.fail(err)
			}
			return
		}
		h = next
	}
}

func (o *Orchestrator) reconnect(ctx context.Context, s Strategy) (Handle, error) {
	var errs []error
	for i := 1; i <= o.spec.MaxReconnects; i++ {
		o.setState(core.TunnelAttempting)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.spec.ReconnectBackoff):
		}

		o.logger.Info("Tunnel reconnect %d/%d via %s", i, o.spec.MaxReconnects, s.Name())
		out := o.attempt(ctx, s)
		if out.Err != nil {
			o.logger.Warn("Tunnel reconnect failed: %v", out.Err)
			errs = append(errs, out.Err)
			continue
		}
		if !o.adopt(s, out.Handle) {
			_ = out.Handle.Close()
			return nil, context.Canceled
		}
		o.logger.Info("Tunnel re-established via %s: %s", s.Name(), out.Handle.Addr())
		return out.Handle, nil
	}
	errs = append(errs, fmt.Errorf("gave up after %d reconnect attempts", o.spec.MaxReconnects))
	return nil, errors.Join(errs...)
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.lastErr = err
	o.active = nil
	o.setStateLocked(core.TunnelFailed)
	o.logger.Warn("Tunnel unavailable, serving on loopback only: %v", err)
}

func (o *Orchestrator) setState(state core.TunnelState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.setStateLocked(state)
}

func (o *Orchestrator) setStateLocked(state core.TunnelState) {
	o.state = state
	metrics.SetTunnelState(state)
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// State returns the current state.
func (o *Orchestrator) State() core.TunnelState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Addr returns the external address, or "" when no tunnel is up.
func (o *Orchestrator) Addr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handle == nil || o.state != core.TunnelEstablished {
		return ""
	}
	return o.handle.Addr()
}

// Strategy returns the name of the strategy that holds the tunnel, or "".
func (o *Orchestrator) Strategy() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return ""
	}
	return o.active.Name()
}

// Err returns the error that put the orchestrator in the Failed state.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Close stops the watcher and releases the live handle. Idempotent.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		cancel := o.cancel
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		o.wg.Wait()

		o.mu.Lock()
		h := o.handle
		o.handle = nil
		o.active = nil
		o.setStateLocked(core.TunnelClosed)
		o.mu.Unlock()

		if h != nil {
			o.closeErr = h.Close()
		}
	})
	return o.closeErr
}
