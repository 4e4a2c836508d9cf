package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"ollama2api/internal/core"

	"github.com/rs/zerolog"
)

// Output formats accepted by LOG_FORMAT.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// AppLogger is the application logger implementation.
type AppLogger struct {
	logger     zerolog.Logger
	debug      bool
	fileHandle *os.File
	mu         sync.RWMutex
}

// NewAppLoggerWithConfig creates a JSON logger writing to output.
func NewAppLoggerWithConfig(output io.Writer, debugMode bool) *AppLogger {
	return newAppLogger(output, FormatJSON, debugMode, nil)
}

func newAppLogger(output io.Writer, format string, debugMode bool, fileHandle *os.File) *AppLogger {
	if format == FormatConsole {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: fileHandle != nil}
	}

	level := zerolog.InfoLevel
	if debugMode {
		level = zerolog.DebugLevel
	}

	return &AppLogger{
		logger:     zerolog.New(output).Level(level).With().Timestamp().Logger(),
		debug:      debugMode,
		fileHandle: fileHandle,
	}
}

// Debug logs a message at DEBUG level.
func (l *AppLogger) Debug(format string, args ...any) {
	if l != nil && l.debug {
		l.logger.Debug().Msgf(format, args...)
	}
}

// Info logs a message at INFO level.
func (l *AppLogger) Info(format string, args ...any) {
	if l != nil {
		l.logger.Info().Msgf(format, args...)
	}
}

// Warn logs a message at WARN level.
func (l *AppLogger) Warn(format string, args ...any) {
	if l != nil {
		l.logger.Warn().Msgf(format, args...)
	}
}

// Error logs a message at ERROR level.
func (l *AppLogger) Error(format string, args ...any) {
	if l != nil {
		l.logger.Error().Msgf(format, args...)
	}
}

// Fatal logs a message at FATAL level and terminates the process.
func (l *AppLogger) Fatal(format string, args ...any) {
	if l != nil {
		l.logger.Fatal().Msgf(format, args...)
		return
	}
	fallback := zerolog.New(os.Stderr)
	fallback.Fatal().Msgf(format, args...)
}

// Writer exposes the logger as an io.Writer at INFO level, for gin's own output.
func (l *AppLogger) Writer() io.Writer {
	return levelWriter{logger: l}
}

type levelWriter struct {
	logger *AppLogger
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.logger.Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Close safely closes log file handle.
func (l *AppLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle != nil {
		err := l.fileHandle.Close()
		l.fileHandle = nil
		return err
	}
	return nil
}

// containsPathTraversal checks if path contains path traversal characters.
func containsPathTraversal(path string) bool {
	return strings.Contains(path, "..")
}

// createDebugFileOutput opens DEBUG_FILE when set. The returned warning is logged by the caller
// once a logger exists.
func createDebugFileOutput(debugFile string) (io.Writer, *os.File, string) {
	if debugFile == "" {
		return os.Stdout, nil, ""
	}

	if len(debugFile) > core.MaxDebugFilePathLength {
		return os.Stdout, nil, "DEBUG_FILE path too long, falling back to stdout"
	}

	if containsPathTraversal(debugFile) {
		return os.Stdout, nil, "DEBUG_FILE contains path traversal characters, falling back to stdout"
	}

	//nolint:gosec // G304: debugFile from env var, validated by containsPathTraversal
	file, err := os.OpenFile(debugFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, core.FilePermissionReadWrite)
	if err != nil {
		return os.Stdout, nil, "Failed to open DEBUG_FILE '" + debugFile + "': " + err.Error() + ", falling back to stdout"
	}

	return file, file, ""
}

// IsDebug returns whether the app is running in debug mode.
func IsDebug() bool {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return true
	}
	return os.Getenv("GIN_MODE") == "debug"
}

// CreateLogger creates a logger instance (for dependency injection).
func CreateLogger() core.Logger {
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	if format != FormatJSON {
		format = FormatConsole
	}

	output, fileHandle, warning := createDebugFileOutput(os.Getenv("DEBUG_FILE"))
	logger := newAppLogger(output, format, IsDebug(), fileHandle)
	if warning != "" {
		logger.Warn("%s", warning)
	}
	return logger
}
