package server

import (
	"fmt"
	"net/http"
	"time"

	"ollama2api/internal/backend"
	"ollama2api/internal/convert"
	"ollama2api/internal/core"
	"ollama2api/internal/metrics"
	"ollama2api/internal/util"

	"github.com/gin-gonic/gin"
)

// handleStreamingResponse relays backend chunks as SSE frames, flushing each one.
// Once headers are out, failures are logged and the stream still ends with [DONE].
func (s *Server) handleStreamingResponse(c *gin.Context, stream core.ChunkStream, model string, outcome *metrics.Outcome) error {
	setStreamingHeaders(c)
	c.Status(http.StatusOK)

	translator := convert.NewStreamTranslator(model)
	ctx := c.Request.Context()

	if err := s.writeStreamChunk(c, translator.Opening()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Client disconnected from stream %s: %v", translator.ID(), ctx.Err())
			return ctx.Err()
		case chunk, ok := <-stream.Chunks():
			if !ok {
				streamErr := stream.Err()
				if streamErr != nil {
					s.logger.Error("Stream %s aborted: %v", translator.ID(), streamErr)
				}
				if _, err := writeSSEDone(c.Writer); err != nil {
					return err
				}
				c.Writer.Flush()
				return streamErr
			}
			if err := s.writeStreamChunk(c, translator.Translate(chunk)); err != nil {
				return err
			}
			outcome.MarkChunk(time.Now())
			if chunk.Done {
				outcome.PromptTokens, outcome.CompletionTokens = chunk.PromptEvalCount, chunk.EvalCount
			}
		}
	}
}

func (s *Server) writeStreamChunk(c *gin.Context, chunk core.ClientChunk) error {
	data, err := util.MarshalJSON(chunk.Payload)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := writeSSEData(c.Writer, data); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	c.Writer.Flush()
	s.metricsService.RecordStreamChunk()
	return nil
}

func (s *Server) handleNonStreamingResponse(c *gin.Context, stream core.ChunkStream, model string, outcome *metrics.Outcome) error {
	chunks, err := backend.Collect(stream)
	outcome.Chunks = len(chunks)
	if err != nil {
		respondWithPipelineError(c, err, s.logger)
		return err
	}

	resp := convert.BuildCompletionResponse(model, chunks, s.config.APIMode == core.APIModeGenerate)
	outcome.PromptTokens, outcome.CompletionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	c.JSON(http.StatusOK, resp)
	return nil
}
