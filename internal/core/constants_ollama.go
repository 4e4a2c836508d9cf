package core

import "time"

// Backend endpoints
const (
	DefaultOllamaURL    = "http://127.0.0.1:11434"
	DefaultOllamaBinary = "ollama"
	OllamaPathRoot      = "/"
	OllamaPathTags      = "/api/tags"
	OllamaPathPull      = "/api/pull"
	OllamaPathChat      = "/api/chat"
	OllamaPathGenerate  = "/api/generate"
)

// APIMode selects which backend endpoint serves chat requests.
type APIMode string

const (
	APIModeChat     APIMode = "chat"
	APIModeGenerate APIMode = "generate"
)

// Backend done_reason values
const (
	DoneReasonStop   = "stop"
	DoneReasonLength = "length"
)

// Autostart polling
const (
	BackendStartPollInterval = 500 * time.Millisecond
	BackendStartPollAttempts = 10
	BackendPingTimeout       = 2 * time.Second
	ProcessStopGracePeriod   = 2 * time.Second
)

// Prompt template markers used by the generate API mode
const (
	PromptInstOpen  = "[INST]"
	PromptInstClose = "[/INST]"
	PromptSysOpen   = "<<SYS>>"
	PromptSysClose  = "<</SYS>>"
	PromptEOS       = "</s>"
)

// Sampling defaults applied in generate mode
const (
	GenerateDefaultTemperature = 0.7
	GenerateDefaultTopP        = 1.0
	GenerateDefaultNumPredict  = 4096
)

// GenerateDefaultStop is the stop list used when a generate-mode request names none.
var GenerateDefaultStop = []string{PromptInstOpen, PromptEOS}
