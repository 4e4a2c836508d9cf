package modelmgr

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"ollama2api/internal/core"
)

// Manager makes sure the model to serve exists on the backend.
type Manager struct {
	backend  core.Backend
	selector core.ModelSelector
	logger   core.Logger
}

func NewManager(backend core.Backend, selector core.ModelSelector, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Manager{backend: backend, selector: selector, logger: logger}
}

// ResolveModel returns requested when installed, pulls it exactly once otherwise.
// An empty name is delegated to the selector first.
func (m *Manager) ResolveModel(ctx context.Context, requested string) (string, error) {
	available, err := m.backend.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: list models: %w", core.ErrModelUnavailable, err)
	}

	model := strings.TrimSpace(requested)
	if model == "" {
		if m.selector == nil {
			return "", fmt.Errorf("%w: no model requested and no selector configured", core.ErrModelUnavailable)
		}
		model, err = m.selector.SelectModel(available)
		if err != nil {
			return "", fmt.Errorf("%w: %v", core.ErrModelUnavailable, err)
		}
		m.logger.Info("Selected model %s", model)
	}

	if IsInstalled(available, model) {
		m.logger.Debug("Model %s already installed", model)
		return model, nil
	}

	m.logger.Info("Model %s not installed, pulling", model)
	if err := m.backend.PullModel(ctx, model); err != nil {
		return "", fmt.Errorf("%w: %s: %w", core.ErrModelUnavailable, model, err)
	}
	return model, nil
}

// IsInstalled matches exact names, treating a missing tag as ":latest".
func IsInstalled(available []string, model string) bool {
	if slices.Contains(available, model) {
		return true
	}
	if !strings.Contains(model, ":") {
		return slices.Contains(available, model+":latest")
	}
	return false
}

// ConfigSelector picks the configured model, else the first installed one, else the fallback.
type ConfigSelector struct {
	Configured string
	Fallback   string
}

func (s ConfigSelector) SelectModel(available []string) (string, error) {
	if s.Configured != "" {
		return s.Configured, nil
	}
	if len(available) > 0 {
		return available[0], nil
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return core.DefaultModelName, nil
}
