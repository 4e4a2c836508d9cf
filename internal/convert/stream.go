package convert

import (
	"strings"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/util"
)

// ParseStreamChunk decodes one NDJSON line from /api/chat or /api/generate.
func ParseStreamChunk(line []byte) (core.StreamChunk, error) {
	var parsed core.OllamaStreamLine
	if err := util.UnmarshalJSON(line, &parsed); err != nil {
		return core.StreamChunk{}, &core.TranslationError{Reason: "invalid backend stream line", Err: err}
	}
	if parsed.Error != "" {
		return core.StreamChunk{}, &core.TranslationError{Reason: "backend reported: " + parsed.Error}
	}

	done := parsed.Done != nil && *parsed.Done
	chunk := core.StreamChunk{
		Model:           parsed.Model,
		Done:            done,
		DoneReason:      parsed.DoneReason,
		PromptEvalCount: parsed.PromptEvalCount,
		EvalCount:       parsed.EvalCount,
	}
	switch {
	case parsed.Message != nil:
		chunk.Text = parsed.Message.Content
	case parsed.Response != nil:
		chunk.Text = *parsed.Response
	case !done:
		return core.StreamChunk{}, &core.TranslationError{Reason: "stream line has neither content nor done flag"}
	}
	return chunk, nil
}

// MapDoneReason converts the backend done_reason to an OpenAI finish_reason.
func MapDoneReason(reason string) string {
	if reason == core.DoneReasonLength {
		return core.FinishReasonLength
	}
	return core.FinishReasonStop
}

// StreamTranslator turns backend chunks into OpenAI stream chunks sharing one id.
// Not safe for concurrent use; one translator serves one response.
type StreamTranslator struct {
	id       string
	created  int64
	model    string
	roleSent bool
}

func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		id:      util.GenerateCompletionID(),
		created: time.Now().Unix(),
		model:   model,
	}
}

// ID returns the completion id shared by every chunk.
func (t *StreamTranslator) ID() string { return t.id }

// Opening returns a role-only chunk sent before any backend output arrives.
func (t *StreamTranslator) Opening() core.ClientChunk {
	t.roleSent = true
	return core.ClientChunk{Payload: t.payload(core.StreamDelta{Role: core.RoleAssistant}, nil)}
}

// Translate maps one backend chunk to exactly one client chunk.
// The done chunk yields an empty delta with finish_reason and Final set.
func (t *StreamTranslator) Translate(chunk core.StreamChunk) core.ClientChunk {
	var delta core.StreamDelta
	if !t.roleSent {
		delta.Role = core.RoleAssistant
		t.roleSent = true
	}

	if !chunk.Done {
		text := chunk.Text
		delta.Content = &text
		return core.ClientChunk{Payload: t.payload(delta, nil)}
	}

	if chunk.Text != "" {
		text := chunk.Text
		delta.Content = &text
	}
	reason := MapDoneReason(chunk.DoneReason)
	return core.ClientChunk{Payload: t.payload(delta, &reason), Final: true}
}

func (t *StreamTranslator) payload(delta core.StreamDelta, finish *string) core.StreamResponse {
	return core.StreamResponse{
		ID:      t.id,
		Object:  core.ChatCompletionChunkObjectType,
		Created: t.created,
		Model:   t.model,
		Choices: []core.StreamChoice{{Delta: delta, Index: 0, FinishReason: finish}},
	}
}

// BuildCompletionResponse folds a finished stream into one non-streaming response.
// cleanup applies CleanGeneratedText, used for generate-mode output.
func BuildCompletionResponse(model string, chunks []core.StreamChunk, cleanup bool) core.ChatCompletionResponse {
	var sb strings.Builder
	finish := core.FinishReasonStop
	promptTokens, completionTokens := 0, 0
	for _, chunk := range chunks {
		sb.WriteString(chunk.Text)
		if chunk.Done {
			finish = MapDoneReason(chunk.DoneReason)
			promptTokens = chunk.PromptEvalCount
			completionTokens = chunk.EvalCount
		}
	}

	content := sb.String()
	if cleanup {
		content = CleanGeneratedText(content)
	}
	if completionTokens == 0 {
		completionTokens = util.EstimateTokenCount(content)
	}

	return core.ChatCompletionResponse{
		ID:      util.GenerateCompletionID(),
		Object:  core.ChatCompletionObjectType,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []core.ChatCompletionChoice{{
			Message:      core.ResponseMessage{Role: core.RoleAssistant, Content: content},
			Index:        0,
			FinishReason: finish,
		}},
		Usage: core.OpenAIUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}
