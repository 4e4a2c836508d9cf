package server

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"ollama2api/internal/cache"
	"ollama2api/internal/core"
	"ollama2api/internal/metrics"

	"github.com/gin-gonic/gin"
)

func (s *Server) listModels(c *gin.Context) {
	cacheKey := cache.GenerateModelsCacheKey(s.config.OllamaURL)
	if list, ok := s.cache.GetModelList(cacheKey); ok {
		s.metricsService.RecordCacheHit()
		c.JSON(http.StatusOK, list)
		return
	}
	s.metricsService.RecordCacheMiss()

	names, err := s.backend.ListModels(c.Request.Context())
	if err != nil {
		respondWithPipelineError(c, err, s.logger)
		return
	}

	list := buildModelList(names, s.modelsConfig.Models, time.Now().Unix())
	s.cache.SetModelList(cacheKey, list, core.ModelListCacheTTL)
	c.JSON(http.StatusOK, list)
}

// buildModelList lists installed models followed by configured aliases, sorted by id.
func buildModelList(installed []string, aliases map[string]string, created int64) core.ModelList {
	seen := make(map[string]bool, len(installed)+len(aliases))
	ids := make([]string, 0, len(installed)+len(aliases))
	for _, name := range installed {
		if !seen[name] {
			seen[name] = true
			ids = append(ids, name)
		}
	}
	for alias := range aliases {
		if !seen[alias] {
			seen[alias] = true
			ids = append(ids, alias)
		}
	}
	sort.Strings(ids)

	list := core.ModelList{Object: core.ModelListObjectType, Data: make([]core.ModelInfo, 0, len(ids))}
	for _, id := range ids {
		list.Data = append(list.Data, core.ModelInfo{
			ID:      id,
			Object:  core.ModelObjectType,
			Created: created,
			OwnedBy: core.ModelOwner,
		})
	}
	return list
}

func (s *Server) chatCompletions(c *gin.Context) {
	outcome := metrics.Outcome{Started: time.Now()}
	defer func() { s.metricsService.RecordCompletion(outcome) }()

	var request core.ChatCompletionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondWithOpenAIError(c, http.StatusBadRequest, core.ErrorTypeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err))
		return
	}
	outcome.Stream = request.Stream

	build, err := s.requestProcessor.BuildBackendRequest(&request, s.models.Load())
	if err != nil {
		respondWithPipelineError(c, err, s.logger)
		return
	}
	outcome.Model = build.Request.Model

	stream, err := s.requestProcessor.Execute(c.Request.Context(), build.Request)
	if err != nil {
		respondWithPipelineError(c, err, s.logger)
		return
	}
	defer stream.Close()

	if request.Stream {
		err = s.handleStreamingResponse(c, stream, build.ClientModel, &outcome)
	} else {
		err = s.handleNonStreamingResponse(c, stream, build.ClientModel, &outcome)
	}
	outcome.Success = err == nil

	if outcome.Success && !build.Aliased {
		if s.models.Swap(build.Request.Model) {
			s.logger.Info("Default model is now %s", build.Request.Model)
		}
	}
}
