package core

import (
	"context"
	"time"
)

// Logger interface
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
}

// Cache interface
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, duration time.Duration)
	Stop()
}

// StorageInterface storage interface
type StorageInterface interface {
	SaveStats(stats *UsageStats) error
	LoadStats() (*UsageStats, error)
	Close() error
}

// MetricsCollector receives pipeline events from the request processor.
type MetricsCollector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordBackendError(kind string)
}

// ChunkStream is a lazy, non-restartable sequence of backend chunks.
// Chunks is closed after the final chunk or on failure; Err is valid once it is closed.
type ChunkStream interface {
	Chunks() <-chan StreamChunk
	Err() error
	Close()
}

// Backend is the native model runtime.
type Backend interface {
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
	PullModel(ctx context.Context, model string) error
	Chat(ctx context.Context, req BackendRequest) (ChunkStream, error)
}

// ModelSelector picks a model when none was requested.
type ModelSelector interface {
	SelectModel(available []string) (string, error)
}

// NopLogger empty logger implementation
type NopLogger struct{}

func (*NopLogger) Debug(format string, args ...any) {}
func (*NopLogger) Info(format string, args ...any)  {}
func (*NopLogger) Warn(format string, args ...any)  {}
func (*NopLogger) Error(format string, args ...any) {}
func (*NopLogger) Fatal(format string, args ...any) {}

// NopMetrics empty metrics collector implementation
type NopMetrics struct{}

func (*NopMetrics) RecordCacheHit()                {}
func (*NopMetrics) RecordCacheMiss()               {}
func (*NopMetrics) RecordBackendError(kind string) {}
