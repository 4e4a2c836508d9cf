package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ollama2api/internal/config"
	"ollama2api/internal/core"
	"ollama2api/internal/metrics"
	"ollama2api/internal/modelmgr"
	"ollama2api/internal/storage"
	"ollama2api/internal/util"
)

type fakeStream struct {
	ch  chan core.StreamChunk
	err error
}

func newFakeStream(chunks []core.StreamChunk, err error) *fakeStream {
	ch := make(chan core.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &fakeStream{ch: ch, err: err}
}

func (s *fakeStream) Chunks() <-chan core.StreamChunk { return s.ch }
func (s *fakeStream) Err() error                      { return s.err }
func (s *fakeStream) Close()                          {}

type fakeBackend struct {
	mu        sync.Mutex
	models    []string
	listErr   error
	listCalls int
	chatErr   error
	chunks    []core.StreamChunk
	streamErr error
	requests  []core.BackendRequest
}

func (f *fakeBackend) Ping(context.Context) error { return nil }

func (f *fakeBackend) ListModels(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.models, f.listErr
}

func (f *fakeBackend) PullModel(context.Context, string) error { return nil }

func (f *fakeBackend) Chat(_ context.Context, req core.BackendRequest) (core.ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return newFakeStream(f.chunks, f.streamErr), nil
}

func (f *fakeBackend) lastRequest() core.BackendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return core.BackendRequest{}
	}
	return f.requests[len(f.requests)-1]
}

type fakeTunnel struct {
	state core.TunnelState
}

func (f fakeTunnel) State() core.TunnelState { return f.state }
func (f fakeTunnel) Addr() string            { return "" }
func (f fakeTunnel) Strategy() string        { return "" }

var helloChunks = []core.StreamChunk{
	{Text: "He"},
	{Text: "llo"},
	{Text: "!"},
	{Done: true, DoneReason: "stop", PromptEvalCount: 5, EvalCount: 3},
}

func newTestServer(t *testing.T, be core.Backend, mutate func(*config.ServerConfig)) *Server {
	t.Helper()

	st := storage.NewFileStorage(filepath.Join(t.TempDir(), "stats.json"))
	cfg := config.DefaultServerConfig()
	cfg.GinMode = "test"
	cfg.OllamaURL = "http://ollama.test"
	cfg.ModelName = "llama3:latest"
	cfg.Storage = st
	cfg.Logger = &core.NopLogger{}
	if mutate != nil {
		mutate(&cfg)
	}

	server, err := NewServer(cfg, be, nil, modelmgr.NewModelCell(cfg.ModelName))
	if err != nil {
		t.Fatalf("创建测试 Server 失败: %v", err)
	}

	t.Cleanup(func() {
		_ = server.Close()
		_ = st.Close()
	})

	return server
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) core.ErrorBody {
	t.Helper()
	var resp core.ErrorResponse
	if err := util.UnmarshalJSON(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("错误响应不是合法 JSON: %v (%s)", err, w.Body.String())
	}
	return resp.Error
}

// sseFrames splits an SSE body into the payloads after "data: ".
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if !strings.HasPrefix(block, core.StreamChunkPrefix) {
			t.Fatalf("unexpected SSE block %q", block)
		}
		frames = append(frames, strings.TrimPrefix(block, core.StreamChunkPrefix))
	}
	return frames
}

func TestServerRoutes_Status(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, nil)

	for _, path := range []string{"/", "/v1"} {
		w := doRequest(server, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s 应返回 200，实际 %d", path, w.Code)
		}
		var body map[string]string
		if err := util.UnmarshalJSON(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid status body: %v", err)
		}
		if body["status"] != core.StatusOK || body["version"] != core.StatusVersion || body["message"] != core.StatusMessage {
			t.Errorf("unexpected status body for %s: %v", path, body)
		}
	}
}

func TestServerRoutes_NotFound(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, nil)

	w := doRequest(server, http.MethodGet, "/v2/unknown", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("未知路径应返回 404，实际 %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Type != core.ErrorTypeNotFound || body.Code != http.StatusNotFound {
		t.Errorf("unexpected error body %+v", body)
	}
	if body.Message != "Endpoint not found: /v2/unknown" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestServerRoutes_FaviconAndPreflight(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, func(cfg *config.ServerConfig) {
		cfg.CORSAllowOrigin = "https://app.example.com"
	})

	if w := doRequest(server, http.MethodGet, "/favicon.ico", ""); w.Code != http.StatusNoContent {
		t.Errorf("favicon 应返回 204，实际 %d", w.Code)
	}

	w := doRequest(server, http.MethodOptions, "/v1/chat/completions", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("预检请求应返回 204，实际 %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestServerRoutes_HealthReportsTunnel(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, nil)
	server.SetTunnel(fakeTunnel{state: core.TunnelFailed})

	w := doRequest(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health 应返回 200，实际 %d", w.Code)
	}
	var body map[string]string
	if err := util.UnmarshalJSON(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if body["status"] != "healthy" || body["tunnel"] != "failed" || body["model"] != "llama3:latest" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestServerRoutes_StatsAndMetrics(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, nil)

	w := doRequest(server, http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/api/stats 应返回 200，实际 %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"currentQPS"`) || !strings.Contains(w.Body.String(), `"tunnel"`) {
		t.Errorf("stats body missing fields: %s", w.Body.String())
	}

	w = doRequest(server, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics 应返回 200，实际 %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ollama2api_http_requests_total") {
		t.Error("metrics output should include the request counter")
	}
}

func TestServerRoutes_StatsPerModelUsage(t *testing.T) {
	server := newTestServer(t, &fakeBackend{chunks: helloChunks}, nil)

	doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"llama3:latest","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"llama3:latest","messages":[{"role":"user","content":"hi"}]}`)
	doRequest(server, http.MethodPost, "/v1/chat/completions", `{not json`)

	w := doRequest(server, http.MethodGet, "/api/stats", "")
	var stats struct {
		TotalRequests  int64                  `json:"totalRequests"`
		FailedRequests int64                  `json:"failedRequests"`
		StreamRequests int64                  `json:"streamRequests"`
		Models         []metrics.ModelSummary `json:"models"`
	}
	if err := util.UnmarshalJSON(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats 不是合法 JSON: %v (%s)", err, w.Body.String())
	}
	if stats.TotalRequests != 3 || stats.FailedRequests != 1 || stats.StreamRequests != 1 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if len(stats.Models) != 1 {
		t.Fatalf("期望 1 个模型统计，实际 %+v", stats.Models)
	}
	got := stats.Models[0]
	if got.Model != "llama3:latest" || got.Requests != 2 || got.StreamRequests != 1 || got.SuccessRate != 100 {
		t.Errorf("unexpected model summary: %+v", got)
	}
	if got.Chunks != int64(2*len(helloChunks)) || got.PromptTokens != 10 || got.CompletionTokens != 6 {
		t.Errorf("chunks and tokens should add up across both requests: %+v", got)
	}
}

func TestListModels_CachedAndMerged(t *testing.T) {
	be := &fakeBackend{models: []string{"qwen2.5:7b", "llama3:latest"}}
	server := newTestServer(t, be, nil)
	server.modelsConfig.Models["gpt-4o"] = "qwen2.5:7b"

	for _, path := range []string{"/v1/models", "/models"} {
		w := doRequest(server, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s 应返回 200，实际 %d", path, w.Code)
		}
		var list core.ModelList
		if err := util.UnmarshalJSON(w.Body.Bytes(), &list); err != nil {
			t.Fatalf("invalid model list: %v", err)
		}
		if list.Object != core.ModelListObjectType || len(list.Data) != 3 {
			t.Fatalf("unexpected model list %+v", list)
		}
		if list.Data[0].ID != "gpt-4o" || list.Data[1].ID != "llama3:latest" || list.Data[2].ID != "qwen2.5:7b" {
			t.Errorf("models should be sorted by id: %+v", list.Data)
		}
	}

	be.mu.Lock()
	calls := be.listCalls
	be.mu.Unlock()
	if calls != 1 {
		t.Errorf("模型列表应被缓存，后端调用 %d 次", calls)
	}
}

func TestListModels_BackendDown(t *testing.T) {
	be := &fakeBackend{listErr: fmt.Errorf("%w: connection refused", core.ErrBackendUnavailable)}
	server := newTestServer(t, be, nil)

	w := doRequest(server, http.MethodGet, "/v1/models", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("后端不可用应返回 503，实际 %d", w.Code)
	}
	if decodeError(t, w).Type != core.ErrorTypeBackend {
		t.Errorf("unexpected error type")
	}
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	be := &fakeBackend{chunks: helloChunks}
	server := newTestServer(t, be, nil)

	w := doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d: %s", w.Code, w.Body.String())
	}

	var resp core.ChatCompletionResponse
	if err := util.UnmarshalJSON(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Object != core.ChatCompletionObjectType || !strings.HasPrefix(resp.ID, core.ResponseIDPrefix) {
		t.Errorf("unexpected envelope %+v", resp)
	}
	if resp.Model != "gpt-4" {
		t.Errorf("response should echo the requested model, got %s", resp.Model)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Hello!" || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected choices %+v", resp.Choices)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 3 || resp.Usage.TotalTokens != 8 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if got := be.lastRequest().Model; got != "llama3:latest" {
		t.Errorf("alias should resolve to the default model, backend got %s", got)
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	be := &fakeBackend{chunks: helloChunks}
	server := newTestServer(t, be, nil)

	w := doRequest(server, http.MethodPost, "/chat/completions",
		`{"model":"llama3:latest","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, core.ContentTypeEventStream) {
		t.Errorf("unexpected content type %q", ct)
	}

	frames := sseFrames(t, w.Body.String())
	// role opening + one frame per backend chunk + [DONE]
	if len(frames) != 1+len(helloChunks)+1 {
		t.Fatalf("期望 %d 帧，实际 %d: %v", len(helloChunks)+2, len(frames), frames)
	}
	if frames[len(frames)-1] != core.StreamChunkDoneMessage {
		t.Fatalf("stream must end with [DONE], got %q", frames[len(frames)-1])
	}

	var chunks []core.StreamResponse
	for _, frame := range frames[:len(frames)-1] {
		var chunk core.StreamResponse
		if err := util.UnmarshalJSON([]byte(frame), &chunk); err != nil {
			t.Fatalf("invalid chunk %q: %v", frame, err)
		}
		chunks = append(chunks, chunk)
	}

	if chunks[0].Choices[0].Delta.Role != core.RoleAssistant || chunks[0].Choices[0].Delta.Content != nil {
		t.Errorf("first frame should only carry the role: %+v", chunks[0].Choices[0].Delta)
	}
	var text strings.Builder
	for i, chunk := range chunks {
		if chunk.ID != chunks[0].ID {
			t.Errorf("frame %d id %s differs from %s", i, chunk.ID, chunks[0].ID)
		}
		if chunk.Object != core.ChatCompletionChunkObjectType {
			t.Errorf("frame %d object %s", i, chunk.Object)
		}
		if c := chunk.Choices[0].Delta.Content; c != nil {
			text.WriteString(*c)
		}
		last := i == len(chunks)-1
		if (chunk.Choices[0].FinishReason != nil) != last {
			t.Errorf("finish_reason must appear only on the last frame (frame %d)", i)
		}
	}
	if text.String() != "Hello!" {
		t.Errorf("期望拼接内容 Hello!，实际 %q", text.String())
	}
	if *chunks[len(chunks)-1].Choices[0].FinishReason != "stop" {
		t.Errorf("unexpected finish reason %s", *chunks[len(chunks)-1].Choices[0].FinishReason)
	}
}

func TestChatCompletions_StreamErrorStillTerminates(t *testing.T) {
	be := &fakeBackend{
		chunks:    []core.StreamChunk{{Text: "partial"}},
		streamErr: &core.TranslationError{Reason: "backend stream ended without a final chunk"},
	}
	server := newTestServer(t, be, nil)

	w := doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"llama3:latest","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	frames := sseFrames(t, w.Body.String())
	if len(frames) != 3 || frames[2] != core.StreamChunkDoneMessage {
		t.Fatalf("aborted stream should still end with [DONE]: %v", frames)
	}
	if server.models.Load() != "llama3:latest" {
		t.Errorf("failed request must not change the default model")
	}
}

func TestChatCompletions_GenerateModeCleansOutput(t *testing.T) {
	be := &fakeBackend{chunks: []core.StreamChunk{
		{Text: "<b>Hi</b>\n\n[/INST]"},
		{Text: "there"},
		{Done: true},
	}}
	server := newTestServer(t, be, func(cfg *config.ServerConfig) {
		cfg.APIMode = core.APIModeGenerate
	})

	w := doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"system","content":"S"},{"role":"user","content":"U"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d: %s", w.Code, w.Body.String())
	}
	var resp core.ChatCompletionResponse
	if err := util.UnmarshalJSON(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Choices[0].Message.Content != "Hi\nthere" {
		t.Errorf("unexpected cleaned content %q", resp.Choices[0].Message.Content)
	}
	if resp.Model != "llama3:latest" {
		t.Errorf("empty request model should report the resolved model, got %s", resp.Model)
	}

	req := be.lastRequest()
	if req.Prompt != "[INST]<<SYS>>S<</SYS>>[/INST]\n[INST]U[/INST]" || len(req.Messages) != 0 {
		t.Errorf("generate mode should send a prompt: %+v", req)
	}
}

func TestChatCompletions_InvalidRequests(t *testing.T) {
	server := newTestServer(t, &fakeBackend{chunks: helloChunks}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"非法JSON", `{"messages": [`},
		{"空消息", `{"model":"llama3","messages":[]}`},
		{"非法stop", `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stop":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(server, http.MethodPost, "/v1/chat/completions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("期望 400，实际 %d: %s", w.Code, w.Body.String())
			}
			if decodeError(t, w).Type != core.ErrorTypeInvalidRequest {
				t.Errorf("unexpected error type")
			}
		})
	}
}

func TestChatCompletions_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		backend    *fakeBackend
		wantStatus int
		wantType   string
	}{
		{
			"后端不可用",
			&fakeBackend{chatErr: fmt.Errorf("%w: dial tcp: connection refused", core.ErrBackendUnavailable)},
			http.StatusServiceUnavailable, core.ErrorTypeBackend,
		},
		{
			"模型不存在",
			&fakeBackend{chatErr: &core.BackendHTTPError{Status: http.StatusNotFound, Message: `model "nope" not found`}},
			http.StatusNotFound, core.ErrorTypeModel,
		},
		{
			"后端4xx透传",
			&fakeBackend{chatErr: &core.BackendHTTPError{Status: http.StatusBadRequest, Message: "invalid options"}},
			http.StatusBadRequest, core.ErrorTypeInvalidRequest,
		},
		{
			"后端5xx",
			&fakeBackend{chatErr: &core.BackendHTTPError{Status: http.StatusInternalServerError, Message: "boom"}},
			http.StatusInternalServerError, core.ErrorTypeAPI,
		},
		{
			"翻译失败",
			&fakeBackend{streamErr: &core.TranslationError{Reason: "invalid backend line"}},
			http.StatusBadGateway, core.ErrorTypeTranslation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.backend, nil)
			w := doRequest(server, http.MethodPost, "/v1/chat/completions",
				`{"model":"nope","messages":[{"role":"user","content":"hi"}]}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("期望 %d，实际 %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			if body.Type != tt.wantType || body.Code != tt.wantStatus {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestChatCompletions_UpdatesDefaultModel(t *testing.T) {
	be := &fakeBackend{chunks: helloChunks}
	server := newTestServer(t, be, nil)

	doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4-turbo","messages":[{"role":"user","content":"hi"}]}`)
	if got := server.models.Load(); got != "llama3:latest" {
		t.Fatalf("alias request must not change the default model, got %s", got)
	}

	doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"model":"qwen2.5:7b","messages":[{"role":"user","content":"hi"}]}`)
	if got := server.models.Load(); got != "qwen2.5:7b" {
		t.Fatalf("explicit model should become the default, got %s", got)
	}

	doRequest(server, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)
	if got := be.lastRequest().Model; got != "qwen2.5:7b" {
		t.Errorf("requests without a model should use the new default, got %s", got)
	}
}

func TestRateLimit(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, func(cfg *config.ServerConfig) {
		cfg.RateLimit = 1
	})

	if w := doRequest(server, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}
	w := doRequest(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("期望 429，实际 %d", w.Code)
	}
	if decodeError(t, w).Type != core.ErrorTypeRateLimit {
		t.Errorf("unexpected error type")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: messages must not be empty", core.ErrInvalidRequest), http.StatusBadRequest},
		{&core.TranslationError{Reason: "x"}, http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", core.ErrBackendUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: llama3", core.ErrModelUnavailable), http.StatusNotFound},
		{&core.BackendHTTPError{Status: http.StatusUnprocessableEntity, Message: "bad"}, http.StatusUnprocessableEntity},
		{&core.BackendHTTPError{Status: http.StatusBadGateway, Message: "bad"}, http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _, message := classifyError(tt.err)
		if status != tt.status {
			t.Errorf("classifyError(%v) = %d, want %d", tt.err, status, tt.status)
		}
		if status == http.StatusInternalServerError && strings.Contains(message, "boom") {
			t.Errorf("internal errors must not leak details: %q", message)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	server := newTestServer(t, &fakeBackend{}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("期望 200，实际 %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve should return nil after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	if _, err := writeSSEData(&buf, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := writeSSEDone(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "data: {\"a\":1}\n\ndata: [DONE]\n\n" {
		t.Errorf("unexpected SSE output %q", buf.String())
	}
}
