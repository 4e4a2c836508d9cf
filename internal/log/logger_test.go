package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewAppLoggerWithConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	if logger == nil {
		t.Fatal("日志实例不应为nil")
	}
	if !logger.debug {
		t.Error("调试模式应为true")
	}
	if logger.fileHandle != nil {
		t.Error("外部输出时不应持有文件句柄")
	}
}

func TestAppLogger_Debug(t *testing.T) {
	tests := []struct {
		name      string
		debugMode bool
		message   string
		expectLog bool
	}{
		{"调试模式下输出", true, "测试调试消息", true},
		{"非调试模式下不输出", false, "这条不应该出现", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAppLoggerWithConfig(&buf, tt.debugMode)
			logger.Debug("%s", tt.message)
			output := buf.String()
			hasLog := strings.Contains(output, tt.message)
			if hasLog != tt.expectLog {
				t.Errorf("期望有日志输出=%v，实际=%v", tt.expectLog, hasLog)
			}
			if tt.expectLog && !strings.Contains(output, `"level":"debug"`) {
				t.Error("调试日志应包含 debug 级别")
			}
		})
	}
}

func TestAppLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *AppLogger)
		level string
		msg   string
	}{
		{"info", func(l *AppLogger) { l.Info("测试信息: %s", "参数值") }, `"level":"info"`, "测试信息: 参数值"},
		{"warn", func(l *AppLogger) { l.Warn("测试警告: %d", 123) }, `"level":"warn"`, "测试警告: 123"},
		{"error", func(l *AppLogger) { l.Error("测试错误: %v", "详细信息") }, `"level":"error"`, "测试错误: 详细信息"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewAppLoggerWithConfig(&buf, false))
			output := buf.String()
			if !strings.Contains(output, tt.level) {
				t.Errorf("日志应包含 %s，实际: %s", tt.level, output)
			}
			if !strings.Contains(output, tt.msg) {
				t.Errorf("日志应包含格式化后的消息，实际: %s", output)
			}
		})
	}
}

func TestAppLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newAppLogger(&buf, FormatConsole, false, nil)
	logger.Info("proxy listening on %s", "127.0.0.1:11435")
	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("console format should not emit JSON: %s", output)
	}
	if !strings.Contains(output, "proxy listening on 127.0.0.1:11435") {
		t.Errorf("missing message: %s", output)
	}
}

func TestAppLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, false)
	n, err := logger.Writer().Write([]byte("GET /health 200\n"))
	if err != nil || n != len("GET /health 200\n") {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if !strings.Contains(buf.String(), `"message":"GET /health 200"`) {
		t.Errorf("writer output not forwarded: %s", buf.String())
	}
}

func TestAppLogger_NilSafety(t *testing.T) {
	var logger *AppLogger = nil
	logger.Debug("不应panic")
	logger.Info("不应panic")
	logger.Warn("不应panic")
	logger.Error("不应panic")
	if err := logger.Close(); err != nil {
		t.Errorf("关闭nil日志不应返回错误: %v", err)
	}
}

func TestContainsPathTraversal(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"正常路径", "/var/log/app.log", false},
		{"包含..", "/var/../etc/passwd", true},
		{"包含../", "../secret.txt", true},
		{"包含./", "./local.log", false},
		{"Windows上级目录", "..\\config.ini", true},
		{"空路径", "", false},
		{"文件名包含点", "/var/log/app.2024.log", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := containsPathTraversal(tt.path)
			if result != tt.expected {
				t.Errorf("containsPathTraversal(%q) = %v，期望 %v", tt.path, result, tt.expected)
			}
		})
	}
}

func TestCreateDebugFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	w, fh, warning := createDebugFileOutput(path)
	if warning != "" || fh == nil || w == nil {
		t.Fatalf("expected file output, got warning %q", warning)
	}
	logger := newAppLogger(w, FormatJSON, false, fh)
	logger.Info("written to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("file missing log line: %s", data)
	}

	_, fh, warning = createDebugFileOutput("../escape.log")
	if fh != nil || warning == "" {
		t.Error("path traversal should fall back to stdout with a warning")
	}
}

func TestIsDebug(t *testing.T) {
	tests := []struct {
		name     string
		debug    string
		ginMode  string
		expected bool
	}{
		{"DEBUG=true", "true", "release", true},
		{"debug模式", "", "debug", true},
		{"release模式", "", "release", false},
		{"DEBUG=false", "false", "test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEBUG", tt.debug)
			t.Setenv("GIN_MODE", tt.ginMode)
			if result := IsDebug(); result != tt.expected {
				t.Errorf("IsDebug() = %v，期望 %v", result, tt.expected)
			}
		})
	}
}

func TestAppLogger_MultipleWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAppLoggerWithConfig(&buf, true)
	logger.Debug("第一条")
	logger.Info("第二条")
	logger.Warn("第三条")
	logger.Error("第四条")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("期望4行日志，实际 %d 行", len(lines))
	}
}
