package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ollama2api/internal/core"

	"github.com/gin-gonic/gin"
)

// setStreamingHeaders sets streaming response HTTP headers
func setStreamingHeaders(c *gin.Context) {
	c.Header(core.HeaderContentType, core.ContentTypeEventStream)
	c.Header(core.HeaderCacheControl, core.CacheControlNoCache)
	c.Header(core.HeaderConnection, core.ConnectionKeepAlive)
	c.Header(core.HeaderXAccelBuffering, "no")
}

// writeSSEData writes SSE format data
func writeSSEData(w io.Writer, data []byte) (int, error) {
	return fmt.Fprintf(w, "%s%s\n\n", core.StreamChunkPrefix, string(data))
}

// writeSSEDone writes SSE end marker
func writeSSEDone(w io.Writer) (int, error) {
	return fmt.Fprintf(w, "%s%s\n\n", core.StreamChunkPrefix, core.StreamChunkDoneMessage)
}

// respondWithOpenAIError returns OpenAI format error response
func respondWithOpenAIError(c *gin.Context, code int, errorType, message string) {
	c.JSON(code, core.ErrorResponse{Error: core.ErrorBody{
		Message: message,
		Type:    errorType,
		Code:    code,
	}})
}

// classifyError maps a pipeline error to an HTTP status, an OpenAI error type and a client message.
// Backend 4xx answers pass through; unexpected failures hide their details.
func classifyError(err error) (int, string, string) {
	var httpErr *core.BackendHTTPError
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest, core.ErrorTypeInvalidRequest, err.Error()
	case errors.Is(err, core.ErrTranslation):
		return http.StatusBadGateway, core.ErrorTypeTranslation, err.Error()
	case core.IsBackendUnavailable(err):
		return http.StatusServiceUnavailable, core.ErrorTypeBackend, err.Error()
	case errors.Is(err, core.ErrModelUnavailable):
		return http.StatusNotFound, core.ErrorTypeModel, err.Error()
	case errors.As(err, &httpErr) && httpErr.Status >= 400 && httpErr.Status < 500:
		return httpErr.Status, core.ErrorTypeInvalidRequest, httpErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, core.ErrorTypeBackend, "backend request timed out"
	default:
		return http.StatusInternalServerError, core.ErrorTypeAPI, "internal server error"
	}
}

// respondWithPipelineError logs err and writes its mapped error response.
func respondWithPipelineError(c *gin.Context, err error, logger core.Logger) {
	status, errorType, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	} else {
		logger.Warn("Request rejected (%d): %v", status, err)
	}
	respondWithOpenAIError(c, status, errorType, message)
}
