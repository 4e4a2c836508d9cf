package core

import "time"

// OllamaMessage is a chat message in the backend's native format.
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// OllamaOptions holds sampling options. Nil fields are omitted so the backend applies its defaults.
type OllamaOptions struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	NumPredict       *int     `json:"num_predict,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// IsEmpty reports whether no option is set.
func (o *OllamaOptions) IsEmpty() bool {
	return o == nil || (o.Temperature == nil && o.TopP == nil && o.NumPredict == nil &&
		len(o.Stop) == 0 && o.Seed == nil && o.PresencePenalty == nil && o.FrequencyPenalty == nil)
}

// BackendRequest is the body sent to /api/chat, or to /api/generate when Prompt is set.
type BackendRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages,omitempty"`
	Prompt   string          `json:"prompt,omitempty"`
	Images   []string        `json:"images,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *OllamaOptions  `json:"options,omitempty"`
}

// OllamaStreamLine is one NDJSON line emitted by /api/chat or /api/generate.
type OllamaStreamLine struct {
	Model           string         `json:"model"`
	CreatedAt       string         `json:"created_at"`
	Message         *OllamaMessage `json:"message,omitempty"`
	Response        *string        `json:"response,omitempty"`
	Done            *bool          `json:"done,omitempty"`
	DoneReason      string         `json:"done_reason,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// StreamChunk is one decoded piece of backend output.
type StreamChunk struct {
	Model           string
	Text            string
	Done            bool
	DoneReason      string
	PromptEvalCount int
	EvalCount       int
}

// OllamaModel is one entry of /api/tags.
type OllamaModel struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
}

// OllamaTagsResponse is the /api/tags body.
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaPullRequest is the /api/pull body.
type OllamaPullRequest struct {
	Model  string `json:"model"`
	Name   string `json:"name,omitempty"`
	Stream bool   `json:"stream"`
}

// OllamaPullProgress is one progress line of /api/pull.
type OllamaPullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}
