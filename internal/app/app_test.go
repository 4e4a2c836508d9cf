package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ollama2api/internal/config"
	"ollama2api/internal/core"
	"ollama2api/internal/storage"

	"golang.org/x/crypto/ssh"
)

// newFakeOllama serves the endpoints startup needs. pulls counts /api/pull calls.
func newFakeOllama(t *testing.T, installed string, pulls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		if installed == "" {
			_, _ = io.WriteString(w, `{"models":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"models":[{"name":"`+installed+`","model":"`+installed+`"}]}`)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		_, _ = io.WriteString(w, "{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// freePort returns a port nothing listens on.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func testConfig(t *testing.T, backendURL string) config.ServerConfig {
	t.Helper()
	st := storage.NewFileStorage(filepath.Join(t.TempDir(), "stats.json"))
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultServerConfig()
	cfg.GinMode = "test"
	cfg.Port = "0"
	cfg.OllamaURL = backendURL
	cfg.ModelName = "llama3:latest"
	cfg.Storage = st
	cfg.Logger = &core.NopLogger{}
	return cfg
}

// startRejectingSSHServer accepts TCP connections and fails every authentication.
func startRejectingSSHServer(t *testing.T) int {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	serverConfig := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, errors.New("password rejected")
		},
	}
	serverConfig.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				_, _, _, _ = ssh.NewServerConn(conn, serverConfig)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNew_BackendRefusedWithoutAutostart(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:"+strconv.Itoa(freePort(t)))
	proxyPort := freePort(t)
	cfg.Port = strconv.Itoa(proxyPort)

	a, err := New(context.Background(), cfg, DefaultStrategies)
	if err == nil {
		_ = a.Close()
		t.Fatal("期望后端不可达时启动失败")
	}
	if !errors.Is(err, core.ErrBackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}

	conn, dialErr := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort), 500*time.Millisecond)
	if dialErr == nil {
		_ = conn.Close()
		t.Fatal("proxy port must not be bound when the backend is unavailable")
	}
}

func TestNew_HungBackendWithoutAutostart(t *testing.T) {
	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(hung.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig(t, hung.URL)
	proxyPort := freePort(t)
	cfg.Port = strconv.Itoa(proxyPort)

	start := time.Now()
	a, err := New(context.Background(), cfg, DefaultStrategies)
	if err == nil {
		_ = a.Close()
		t.Fatal("期望后端无响应时启动失败")
	}
	if !errors.Is(err, core.ErrBackendUnavailable) {
		t.Fatalf("a backend that never answers should be BackendUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > core.BackendPingTimeout+3*time.Second {
		t.Errorf("startup ping should be bounded, took %v", elapsed)
	}

	conn, dialErr := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort), 500*time.Millisecond)
	if dialErr == nil {
		_ = conn.Close()
		t.Fatal("proxy port must not be bound when the backend hangs")
	}
}

func TestNew_PullsMissingModelOnce(t *testing.T) {
	var pulls atomic.Int32
	backend := newFakeOllama(t, "", &pulls)
	cfg := testConfig(t, backend.URL)
	cfg.ModelName = "qwen2.5:7b"

	a, err := New(context.Background(), cfg, DefaultStrategies)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer func() { _ = a.Close() }()

	if got := pulls.Load(); got != 1 {
		t.Errorf("缺失模型应拉取一次，实际 %d 次", got)
	}
	if a.Tunnel().State() != core.TunnelIdle {
		t.Errorf("tunnel disabled should stay idle, got %s", a.Tunnel().State())
	}
}

func TestNew_TunnelFailureKeepsLoopbackServing(t *testing.T) {
	var pulls atomic.Int32
	backend := newFakeOllama(t, "llama3:latest", &pulls)
	cfg := testConfig(t, backend.URL)
	cfg.Tunnel.Kind = core.TunnelSSH
	cfg.Tunnel.AttemptTimeout = 5 * time.Second
	cfg.Tunnel.MaxReconnects = 0
	cfg.Tunnel.SSH = core.SSHSpec{
		Host:     "127.0.0.1",
		Port:     startRejectingSSHServer(t),
		User:     "deploy",
		Password: "wrong",
		Binary:   "ollama2api-no-such-ssh-client",
	}
	cfg.Tunnel.SSH.RemotePort = 18080

	a, err := New(context.Background(), cfg, DefaultStrategies)
	if err != nil {
		t.Fatalf("隧道失败不应阻止启动: %v", err)
	}
	defer func() { _ = a.Close() }()

	if pulls.Load() != 0 {
		t.Error("installed model must not be pulled")
	}
	if state := a.Tunnel().State(); state != core.TunnelFailed {
		t.Fatalf("期望隧道状态 failed，实际 %s", state)
	}
	tunnelErr := a.Tunnel().Err()
	if !errors.Is(tunnelErr, core.ErrTunnelAuth) || !errors.Is(tunnelErr, core.ErrTunnelBinaryMissing) {
		t.Errorf("expected auth and binary-missing failures, got %v", tunnelErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	resp, err := http.Get("http://" + a.Addr().String() + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("期望 200，实际 %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"tunnel":"failed"`) {
		t.Errorf("health should report the failed tunnel: %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	var pulls atomic.Int32
	backend := newFakeOllama(t, "llama3:latest", &pulls)

	a, err := New(context.Background(), testConfig(t, backend.URL), nil)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	addr := a.Addr().String()
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		t.Error("listener should be released after Close")
	}
}
