package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrTranslation         = errors.New("translation error")
	ErrTunnelAuth          = errors.New("tunnel authentication rejected")
	ErrTunnelConnect       = errors.New("tunnel connection failed")
	ErrTunnelBinaryMissing = errors.New("tunnel client binary not found")
)

// TranslationError reports backend output that cannot be mapped to the client format.
type TranslationError struct {
	Reason string
	Err    error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation error: %s: %v", e.Reason, e.Err)
	}
	return "translation error: " + e.Reason
}

func (e *TranslationError) Is(target error) bool { return target == ErrTranslation }

func (e *TranslationError) Unwrap() error { return e.Err }

// BackendHTTPError is a non-2xx answer from the backend.
type BackendHTTPError struct {
	Status  int
	Message string
}

func (e *BackendHTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// TunnelError is a failed tunnel attempt. Kind is one of the ErrTunnel* sentinels.
type TunnelError struct {
	Strategy string
	Kind     error
	Err      error
}

// NewTunnelError builds a TunnelError.
func NewTunnelError(strategy string, kind, err error) *TunnelError {
	return &TunnelError{Strategy: strategy, Kind: kind, Err: err}
}

func (e *TunnelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Strategy, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Strategy, e.Kind, e.Err)
}

func (e *TunnelError) Is(target error) bool { return target == e.Kind }

func (e *TunnelError) Unwrap() error { return e.Err }

// IsBackendUnavailable reports whether err means the backend could not be reached.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
