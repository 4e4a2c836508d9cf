package core

// OpenAI object type constants
const (
	ModelObjectType               = "model"
	ModelOwner                    = "ollama"
	ChatCompletionObjectType      = "chat.completion"
	ChatCompletionChunkObjectType = "chat.completion.chunk"
	ModelListObjectType           = "list"
)

// ID prefix constants
const (
	ResponseIDPrefix = "chatcmpl-"
)

// OpenAI finish reason constants
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)

// Model names starting with these prefixes are treated as aliases of the default model.
var DefaultAliasPrefixes = []string{"gpt-3", "gpt-4"}

// EmptyResponseText replaces a cleaned completion that ended up empty.
const EmptyResponseText = "Empty response"
