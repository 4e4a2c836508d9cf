package core

// Default config constants
const (
	DefaultPort      = "11435"
	DefaultBindHost  = "127.0.0.1"
	DefaultGinMode   = "release"
	DefaultModelName = "deepseek-r1:7b"
	CORSMaxAge       = "86400"
)

// Content type and header constants
const (
	ContentTypeEventStream = "text/event-stream"
	ContentTypeJSON        = "application/json"
	ContentTypeNDJSON      = "application/x-ndjson"
	CacheControlNoCache    = "no-cache"
	ConnectionKeepAlive    = "keep-alive"
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAccept           = "Accept"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderXAPIKey          = "x-api-key"
	HeaderXAccelBuffering  = "X-Accel-Buffering"
)

// SSE stream constants
const (
	StreamChunkDoneMessage = "[DONE]"
	StreamChunkPrefix      = "data: "
)

// Role constants
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Content part types used in OpenAI message arrays
const (
	ContentBlockTypeText     = "text"
	ContentBlockTypeImageURL = "image_url"
)

// Status endpoint payload
const (
	StatusOK      = "ok"
	StatusVersion = "v1"
	StatusMessage = "Ollama proxy is running"
)

// OpenAI error type constants
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found"
	ErrorTypeAPI            = "api_error"
	ErrorTypeBackend        = "backend_unavailable"
	ErrorTypeModel          = "model_unavailable"
	ErrorTypeTranslation    = "translation_error"
	ErrorTypeRateLimit      = "rate_limit_exceeded"
)
