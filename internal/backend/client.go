package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ollama2api/internal/config"
	"ollama2api/internal/core"
	"ollama2api/internal/util"
)

// Client talks to the Ollama HTTP API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	idleTimeout time.Duration
	logger      core.Logger
}

// NewClient creates a backend client. A nil httpClient gets the tuned default transport.
func NewClient(baseURL string, httpClient *http.Client, logger core.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(config.DefaultHTTPClientSettings())
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		idleTimeout: core.HTTPRequestTimeout,
		logger:      logger,
	}
}

// WithIdleTimeout sets how long a pull or chat body may stay silent before the request is aborted.
// Zero disables the guard.
func (c *Client) WithIdleTimeout(d time.Duration) *Client {
	c.idleTimeout = d
	return c
}

// NewHTTPClient builds the pooled HTTP client used for backend calls.
// There is no overall client timeout: pulls and generations stream for as long as the
// backend keeps sending. RequestTimeout bounds the wait for response headers instead.
func NewHTTPClient(settings config.HTTPClientSettings) *http.Client {
	headerTimeout := settings.RequestTimeout
	if headerTimeout <= 0 {
		headerTimeout = core.HTTPResponseHeaderTimeout
	}
	transport := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          settings.MaxIdleConns,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   settings.TLSHandshakeTimeout,
		ExpectContinueTimeout: core.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{Transport: transport}
}

// BaseURL returns the backend root URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Ping checks that the backend answers on its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, core.OllamaPathRoot, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, core.MaxResponseBodySize))
	return nil
}

// Tags returns the raw /api/tags entries.
func (c *Client) Tags(ctx context.Context) ([]core.OllamaModel, error) {
	resp, err := c.do(ctx, http.MethodGet, core.OllamaPathTags, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	var tags core.OllamaTagsResponse
	if err := util.UnmarshalJSON(body, &tags); err != nil {
		return nil, &core.TranslationError{Reason: "invalid /api/tags response", Err: err}
	}
	return tags.Models, nil
}

// ListModels returns installed model names in backend order.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// PullModel downloads a model and blocks until the backend reports success.
func (c *Client) PullModel(ctx context.Context, model string) error {
	payload, err := util.MarshalJSON(core.OllamaPullRequest{Model: model, Name: model, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resp, err := c.do(pullCtx, http.MethodPost, core.OllamaPathPull, payload)
	if err != nil {
		return err
	}
	body := newIdleReader(resp.Body, c.idleTimeout, cancel)
	defer func() { _ = body.Close() }()

	c.logger.Info("Pulling model %s", model)
	var pullErr error
	lastStatus := ""
	err = ProcessNDJSONStream(pullCtx, body, func(line []byte) bool {
		var progress core.OllamaPullProgress
		if err := util.UnmarshalJSON(line, &progress); err != nil {
			c.logger.Debug("Skipping unparsable pull progress line: %s", string(line))
			return true
		}
		if progress.Error != "" {
			pullErr = fmt.Errorf("pull %s: %s", model, progress.Error)
			return false
		}
		if progress.Total > 0 {
			c.logger.Debug("Pull %s: %s %d/%d", model, progress.Status, progress.Completed, progress.Total)
		} else if progress.Status != lastStatus {
			c.logger.Debug("Pull %s: %s", model, progress.Status)
		}
		lastStatus = progress.Status
		return true
	})
	if pullErr != nil {
		return pullErr
	}
	if err = body.mapErr(err); err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	if lastStatus != "success" {
		return fmt.Errorf("pull %s: stream ended with status %q", model, lastStatus)
	}
	c.logger.Info("Model %s pulled", model)
	return nil
}

// Chat posts to /api/chat, or /api/generate when the request carries a prompt.
// The backend is always asked to stream.
func (c *Client) Chat(ctx context.Context, req core.BackendRequest) (core.ChunkStream, error) {
	req.Stream = true
	path := core.OllamaPathChat
	if req.Prompt != "" {
		path = core.OllamaPathGenerate
	}

	payload, err := util.MarshalJSON(req)
	if err != nil {
		return nil, fmt.Errorf("marshal backend request: %w", err)
	}
	c.logger.Debug("Backend request: path=%s model=%s messages=%d size=%d", path, req.Model, len(req.Messages), len(payload))

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.do(streamCtx, http.MethodPost, path, payload)
	if err != nil {
		cancel()
		return nil, err
	}
	return newChunkStream(streamCtx, cancel, newIdleReader(resp.Body, c.idleTimeout, cancel), c.logger), nil
}

// do sends a request and maps transport failures and non-2xx answers to typed errors.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	}
	req.Header.Set(core.HeaderAccept, core.ContentTypeNDJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A backend that accepts the connection but never answers is unavailable,
		// a caller that went away is not.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %w", core.ErrBackendUnavailable, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, &core.BackendHTTPError{Status: resp.StatusCode, Message: extractBackendErrorMessage(resp, c.logger)}
	}
	return resp, nil
}

// extractBackendErrorMessage reads {"error": "..."} bodies, falling back to the raw text.
func extractBackendErrorMessage(resp *http.Response, logger core.Logger) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	logger.Warn("Backend error: status=%d, body=%s", resp.StatusCode, util.TruncateString(string(body), 200, 50, "..."))

	var envelope struct {
		Error string `json:"error"`
	}
	if err := util.UnmarshalJSON(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// IsModelNotFound reports whether err is the backend's 404 for an unknown model.
func IsModelNotFound(err error) bool {
	var httpErr *core.BackendHTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// idleReader aborts a streamed body that stays silent for longer than idle.
type idleReader struct {
	body    io.ReadCloser
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(body io.ReadCloser, idle time.Duration, cancel context.CancelFunc) *idleReader {
	r := &idleReader{body: body, idle: idle}
	if idle > 0 {
		r.timer = time.AfterFunc(idle, func() {
			r.expired.Store(true)
			cancel()
		})
	}
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && r.timer != nil {
		r.timer.Reset(r.idle)
	}
	return n, err
}

func (r *idleReader) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	return r.body.Close()
}

// mapErr reports a read aborted by the idle guard as an unavailable backend.
func (r *idleReader) mapErr(err error) error {
	if err != nil && r.expired.Load() {
		return fmt.Errorf("%w: no data from backend for %v", core.ErrBackendUnavailable, r.idle)
	}
	return err
}
