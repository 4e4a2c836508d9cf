package core

import "time"

// ModelInfo represents a single model entry in the models list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the OpenAI-compatible model list response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelsConfig holds explicit model aliases loaded from the models file.
type ModelsConfig struct {
	Models map[string]string `json:"models"`
}

// UsageStats is the persisted chat-completion usage, aggregated per backend model.
type UsageStats struct {
	TotalRequests      int64                 `json:"total_requests"`
	SuccessfulRequests int64                 `json:"successful_requests"`
	FailedRequests     int64                 `json:"failed_requests"`
	StreamRequests     int64                 `json:"stream_requests"`
	LastRequestTime    time.Time             `json:"last_request_time"`
	Models             map[string]ModelUsage `json:"models"`
}

// ModelUsage accumulates outcomes for one backend model. Durations are milliseconds.
type ModelUsage struct {
	Requests          int64 `json:"requests"`
	Failures          int64 `json:"failures"`
	StreamRequests    int64 `json:"stream_requests"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	FirstChunkSamples int64 `json:"first_chunk_samples"`
	TotalFirstChunkMs int64 `json:"total_first_chunk_ms"`
	Chunks            int64 `json:"chunks"`
	PromptTokens      int64 `json:"prompt_tokens"`
	CompletionTokens  int64 `json:"completion_tokens"`
}
