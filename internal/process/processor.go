package process

import (
	"context"
	"errors"
	"fmt"

	"ollama2api/internal/backend"
	"ollama2api/internal/cache"
	"ollama2api/internal/convert"
	"ollama2api/internal/core"
)

// Options are the translation settings shared by every request.
type Options struct {
	AliasPrefixes []string
	Aliases       map[string]string
	APIMode       core.APIMode
}

// RequestProcessor handles request processing: translate, call the backend, restart it once if needed.
type RequestProcessor struct {
	options Options
	backend core.Backend
	starter backend.Starter
	cache   core.Cache
	metrics core.MetricsCollector
	logger  core.Logger
}

// NewRequestProcessor creates a new request processor. starter may be nil when autostart is disabled.
func NewRequestProcessor(options Options, be core.Backend, starter backend.Starter, c core.Cache, metrics core.MetricsCollector, logger core.Logger) *RequestProcessor {
	if options.APIMode == "" {
		options.APIMode = core.APIModeChat
	}
	return &RequestProcessor{
		options: options,
		backend: be,
		starter: starter,
		cache:   c,
		metrics: metrics,
		logger:  logger,
	}
}

// ProcessMessagesResult message processing result
type ProcessMessagesResult struct {
	Messages []core.OllamaMessage
	CacheHit bool
}

// ProcessMessages converts messages, reusing a cached conversion when available
func (p *RequestProcessor) ProcessMessages(messages []core.ChatMessage) ProcessMessagesResult {
	cacheKey := cache.GenerateMessagesCacheKey(messages, "", p.options.APIMode)

	if cachedAny, found := p.cache.Get(cacheKey); found {
		if converted, ok := cachedAny.([]core.OllamaMessage); ok {
			p.metrics.RecordCacheHit()
			return ProcessMessagesResult{Messages: converted, CacheHit: true}
		}
		p.logger.Warn("Cache format mismatch for messages (key: %s), regenerating", cache.TruncateCacheKey(cacheKey, 16))
	}

	p.metrics.RecordCacheMiss()
	converted := convert.OpenAIToOllamaMessages(messages, p.logger)
	p.cache.Set(cacheKey, converted, core.MessageConversionCacheTTL)

	return ProcessMessagesResult{Messages: converted}
}

// BuildResult is a translated request plus how its model was chosen.
type BuildResult struct {
	Request core.BackendRequest
	// Aliased is true when the model came from the default or an alias rule.
	Aliased bool
	// ClientModel is the name echoed back in responses.
	ClientModel string
}

// BuildBackendRequest translates an OpenAI request using defaultModel for empty and aliased names.
func (p *RequestProcessor) BuildBackendRequest(req *core.ChatCompletionRequest, defaultModel string) (BuildResult, error) {
	if len(req.Messages) == 0 {
		return BuildResult{}, fmt.Errorf("%w: messages must not be empty", core.ErrInvalidRequest)
	}

	opts := convert.RequestOptions{
		DefaultModel:  defaultModel,
		AliasPrefixes: p.options.AliasPrefixes,
		Aliases:       p.options.Aliases,
		APIMode:       p.options.APIMode,
		Logger:        p.logger,
	}
	messages := p.ProcessMessages(req.Messages)
	out, err := convert.TranslateWithMessages(*req, messages.Messages, opts)
	if err != nil {
		return BuildResult{}, err
	}

	_, aliased := convert.ResolveModelName(req.Model, opts)
	clientModel := req.Model
	if clientModel == "" {
		clientModel = out.Model
	}
	p.logger.Debug("Backend payload: model=%s->%s, messages=%d, mode=%s, cache_hit=%v",
		req.Model, out.Model, len(messages.Messages), p.options.APIMode, messages.CacheHit)

	return BuildResult{Request: out, Aliased: aliased, ClientModel: clientModel}, nil
}

// Execute opens a backend stream. An unreachable backend is restarted once through the starter.
func (p *RequestProcessor) Execute(ctx context.Context, req core.BackendRequest) (core.ChunkStream, error) {
	stream, err := p.backend.Chat(ctx, req)
	if err != nil && core.IsBackendUnavailable(err) && p.starter != nil && ctx.Err() == nil {
		p.logger.Warn("Backend unreachable, attempting restart: %v", err)
		if startErr := p.starter.Start(ctx); startErr != nil {
			p.metrics.RecordBackendError(ErrorKind(startErr))
			return nil, fmt.Errorf("%w (restart failed: %v)", err, startErr)
		}
		stream, err = p.backend.Chat(ctx, req)
	}
	if err != nil {
		p.metrics.RecordBackendError(ErrorKind(err))
		if backend.IsModelNotFound(err) {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrModelUnavailable, req.Model, err)
		}
		return nil, err
	}
	return stream, nil
}

// ErrorKind labels err for the backend error counter.
func ErrorKind(err error) string {
	var httpErr *core.BackendHTTPError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case core.IsBackendUnavailable(err):
		return "unavailable"
	case errors.Is(err, core.ErrTranslation):
		return "translation"
	case errors.As(err, &httpErr):
		return "http"
	default:
		return "other"
	}
}
