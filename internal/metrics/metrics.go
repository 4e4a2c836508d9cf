package metrics

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"ollama2api/internal/core"
)

// Config configures a usage Service.
type Config struct {
	SaveInterval time.Duration
	Storage      core.StorageInterface
	Logger       core.Logger
}

// Outcome describes one chat completion, filled in while the request is served.
type Outcome struct {
	Started          time.Time
	Model            string
	Stream           bool
	Success          bool
	FirstChunk       time.Duration
	Chunks           int
	PromptTokens     int
	CompletionTokens int
}

// MarkChunk counts one backend chunk relayed to the client. The first one fixes FirstChunk.
func (o *Outcome) MarkChunk(now time.Time) {
	if o.Chunks == 0 {
		o.FirstChunk = now.Sub(o.Started)
	}
	o.Chunks++
}

// ModelSummary is the /api/stats view of one model.
type ModelSummary struct {
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	SuccessRate      float64 `json:"successRate"`
	StreamRequests   int64   `json:"streamRequests"`
	AvgLatencyMs     int64   `json:"avgLatencyMs"`
	AvgFirstChunkMs  int64   `json:"avgFirstChunkMs"`
	Chunks           int64   `json:"chunks"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
}

// Service aggregates completion outcomes per backend model and persists them periodically.
type Service struct {
	mu      sync.Mutex
	usage   core.UsageStats
	recent  rateWindow
	dirty   bool
	storage core.StorageInterface
	logger  core.Logger

	saveInterval time.Duration
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = core.StatsSaveInterval
	}
	s := &Service{
		usage:        core.UsageStats{Models: map[string]core.ModelUsage{}},
		storage:      cfg.Storage,
		logger:       cfg.Logger,
		saveInterval: cfg.SaveInterval,
		done:         make(chan struct{}),
	}
	if s.storage != nil {
		s.wg.Add(1)
		go s.saveLoop()
	}
	return s
}

// RecordCompletion folds one finished request into the totals and the prometheus series.
// Requests rejected before a model was known count towards the totals only.
func (s *Service) RecordCompletion(o Outcome) {
	now := time.Now()
	latency := now.Sub(o.Started)

	s.mu.Lock()
	s.usage.TotalRequests++
	if o.Success {
		s.usage.SuccessfulRequests++
	} else {
		s.usage.FailedRequests++
	}
	if o.Stream {
		s.usage.StreamRequests++
	}
	s.usage.LastRequestTime = now
	if o.Model != "" {
		u := s.usage.Models[o.Model]
		u.Requests++
		if !o.Success {
			u.Failures++
		}
		if o.Stream {
			u.StreamRequests++
		}
		u.TotalLatencyMs += latency.Milliseconds()
		if o.Stream && o.Chunks > 0 {
			u.FirstChunkSamples++
			u.TotalFirstChunkMs += o.FirstChunk.Milliseconds()
		}
		u.Chunks += int64(o.Chunks)
		u.PromptTokens += int64(o.PromptTokens)
		u.CompletionTokens += int64(o.CompletionTokens)
		s.usage.Models[o.Model] = u
	}
	s.recent.add(now)
	s.dirty = true
	s.mu.Unlock()

	model := o.Model
	if model == "" {
		model = "unknown"
	}
	result := "success"
	if !o.Success {
		result = "failure"
	}
	completionsTotal.WithLabelValues(model, strconv.FormatBool(o.Stream), result).Inc()
	completionDuration.WithLabelValues(model, strconv.FormatBool(o.Stream)).Observe(latency.Seconds())
	if o.Stream && o.Chunks > 0 {
		firstChunkDuration.WithLabelValues(model).Observe(o.FirstChunk.Seconds())
	}
}

// RecordPanic counts a handler panic.
func (s *Service) RecordPanic() {
	handlerPanicsTotal.Inc()
}

func (s *Service) RecordCacheHit() {
	cacheLookupsTotal.WithLabelValues("hit").Inc()
}

func (s *Service) RecordCacheMiss() {
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordStreamChunk counts one SSE chunk written to a client
func (s *Service) RecordStreamChunk() {
	streamChunksTotal.Inc()
}

// RecordBackendError counts a backend failure by kind
func (s *Service) RecordBackendError(kind string) {
	if kind == "" {
		kind = "unspecified"
	}
	backendErrorsTotal.WithLabelValues(kind).Inc()
}

// RequestsPerSecond averages completions over the last minute.
func (s *Service) RequestsPerSecond() float64 {
	s.mu.Lock()
	n := s.recent.count(time.Now())
	s.mu.Unlock()
	return math.Round(float64(n)/rateWindowSeconds*1000) / 1000
}

// Snapshot returns a copy of the accumulated usage.
func (s *Service) Snapshot() core.UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.usage
	out.Models = maps.Clone(s.usage.Models)
	return out
}

// ModelSummaries lists per-model averages, busiest model first.
func (s *Service) ModelSummaries() []ModelSummary {
	usage := s.Snapshot()
	out := make([]ModelSummary, 0, len(usage.Models))
	for name, u := range usage.Models {
		sum := ModelSummary{
			Model:            name,
			Requests:         u.Requests,
			StreamRequests:   u.StreamRequests,
			Chunks:           u.Chunks,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
		}
		if u.Requests > 0 {
			sum.SuccessRate = math.Round(float64(u.Requests-u.Failures)/float64(u.Requests)*1000) / 10
			sum.AvgLatencyMs = u.TotalLatencyMs / u.Requests
		}
		if u.FirstChunkSamples > 0 {
			sum.AvgFirstChunkMs = u.TotalFirstChunkMs / u.FirstChunkSamples
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b ModelSummary) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return cmp.Compare(a.Model, b.Model)
	})
	return out
}

// LoadStats restores persisted usage. Totals recorded before the call are replaced.
func (s *Service) LoadStats() error {
	if s.storage == nil {
		return nil
	}
	stats, err := s.storage.LoadStats()
	if err != nil {
		return err
	}
	if stats.Models == nil {
		stats.Models = map[string]core.ModelUsage{}
	}
	s.mu.Lock()
	s.usage = *stats
	s.mu.Unlock()
	return nil
}

func (s *Service) saveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.saveIfDirty(); err != nil {
				s.logger.Warn("Failed to save stats: %v", err)
			}
		}
	}
}

func (s *Service) saveIfDirty() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	stats := s.Snapshot()
	if err := s.storage.SaveStats(&stats); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the save loop and writes pending usage. Later calls return the first result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.storage != nil {
			s.closeErr = s.saveIfDirty()
		}
	})
	return s.closeErr
}

const rateWindowSeconds = 60

// rateWindow counts events per second over the last minute.
type rateWindow struct {
	counts [rateWindowSeconds]int64
	owner  [rateWindowSeconds]int64
}

func (w *rateWindow) add(now time.Time) {
	sec := now.Unix()
	i := sec % rateWindowSeconds
	if w.owner[i] != sec {
		w.owner[i] = sec
		w.counts[i] = 0
	}
	w.counts[i]++
}

func (w *rateWindow) count(now time.Time) int64 {
	sec := now.Unix()
	var n int64
	for i := range w.counts {
		if sec-w.owner[i] < rateWindowSeconds {
			n += w.counts[i]
		}
	}
	return n
}
