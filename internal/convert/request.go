package convert

import (
	"fmt"
	"strings"

	"ollama2api/internal/core"
)

// RequestOptions carries the per-request translation settings.
type RequestOptions struct {
	DefaultModel  string
	AliasPrefixes []string
	Aliases       map[string]string
	APIMode       core.APIMode
	Logger        core.Logger
}

// ResolveModelName maps the client's model field to a backend model.
// aliased is true when the result came from the default model or an alias rule rather than the request.
func ResolveModelName(requested string, opts RequestOptions) (model string, aliased bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return opts.DefaultModel, true
	}
	if target, ok := opts.Aliases[requested]; ok && target != "" {
		return target, target != requested
	}
	for _, prefix := range opts.AliasPrefixes {
		if prefix != "" && strings.HasPrefix(requested, prefix) {
			return opts.DefaultModel, true
		}
	}
	return requested, false
}

// TranslateRequest rewrites an OpenAI chat request into a backend request.
func TranslateRequest(req core.ChatCompletionRequest, opts RequestOptions) (core.BackendRequest, error) {
	if len(req.Messages) == 0 {
		return core.BackendRequest{}, fmt.Errorf("%w: messages must not be empty", core.ErrInvalidRequest)
	}
	return TranslateWithMessages(req, OpenAIToOllamaMessages(req.Messages, opts.Logger), opts)
}

// TranslateWithMessages is TranslateRequest with the message conversion already done,
// so callers can cache converted messages.
func TranslateWithMessages(req core.ChatCompletionRequest, messages []core.OllamaMessage, opts RequestOptions) (core.BackendRequest, error) {
	if len(messages) == 0 {
		return core.BackendRequest{}, fmt.Errorf("%w: messages must not be empty", core.ErrInvalidRequest)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NopLogger{}
	}

	model, aliased := ResolveModelName(req.Model, opts)
	if model == "" {
		return core.BackendRequest{}, fmt.Errorf("%w: no model requested and no default configured", core.ErrInvalidRequest)
	}
	if aliased && req.Model != "" {
		logger.Info("Converting %s to %s", req.Model, model)
	}

	stop, err := parseStop(req.Stop)
	if err != nil {
		return core.BackendRequest{}, err
	}

	out := core.BackendRequest{
		Model:  model,
		Stream: req.Stream,
		Options: &core.OllamaOptions{
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			NumPredict:       req.MaxTokens,
			Stop:             stop,
			Seed:             req.Seed,
			PresencePenalty:  req.PresencePenalty,
			FrequencyPenalty: req.FrequencyPenalty,
		},
	}

	if opts.APIMode == core.APIModeGenerate {
		out.Prompt = RenderPrompt(messages)
		out.Images = CollectImages(messages)
		applyGenerateDefaults(out.Options)
	} else {
		out.Messages = messages
	}

	if out.Options.IsEmpty() {
		out.Options = nil
	}
	return out, nil
}

func applyGenerateDefaults(o *core.OllamaOptions) {
	if o.Temperature == nil {
		v := core.GenerateDefaultTemperature
		o.Temperature = &v
	}
	if o.TopP == nil {
		v := core.GenerateDefaultTopP
		o.TopP = &v
	}
	if o.NumPredict == nil {
		v := core.GenerateDefaultNumPredict
		o.NumPredict = &v
	}
	if len(o.Stop) == 0 {
		o.Stop = append([]string(nil), core.GenerateDefaultStop...)
	}
}

// parseStop accepts a string or a list of strings.
func parseStop(stop any) ([]string, error) {
	switch v := stop.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: stop entries must be strings", core.ErrInvalidRequest)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: stop must be a string or an array of strings", core.ErrInvalidRequest)
	}
}

// ReverseRequest maps a chat-mode backend request back to the client shape.
func ReverseRequest(req core.BackendRequest) core.ChatCompletionRequest {
	out := core.ChatCompletionRequest{
		Model:  req.Model,
		Stream: req.Stream,
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, core.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	if o := req.Options; o != nil {
		out.Temperature = o.Temperature
		out.TopP = o.TopP
		out.MaxTokens = o.NumPredict
		out.Seed = o.Seed
		out.PresencePenalty = o.PresencePenalty
		out.FrequencyPenalty = o.FrequencyPenalty
		if len(o.Stop) > 0 {
			out.Stop = o.Stop
		}
	}
	return out
}
