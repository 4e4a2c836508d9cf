package metrics

import (
	"net/http"
	"strconv"
	"time"

	"ollama2api/internal/core"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ollama2api",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "chat",
			Name:      "completions_total",
			Help:      "Chat completions by backend model, stream mode and result",
		},
		[]string{"model", "stream", "result"},
	)

	completionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ollama2api",
			Subsystem: "chat",
			Name:      "completion_duration_seconds",
			Help:      "Time from request arrival to the last byte of the completion",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "stream"},
	)

	firstChunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ollama2api",
			Subsystem: "stream",
			Name:      "first_chunk_seconds",
			Help:      "Time from request arrival to the first relayed backend chunk",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	handlerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Recovered handler panics",
		},
	)

	streamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Translated SSE chunks written to clients",
		},
	)

	backendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "backend",
			Name:      "errors_total",
			Help:      "Backend failures by kind",
		},
		[]string{"kind"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		},
		[]string{"result"},
	)

	tunnelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ollama2api",
			Subsystem: "tunnel",
			Name:      "state",
			Help:      "1 for the current tunnel state, 0 otherwise",
		},
		[]string{"state"},
	)

	tunnelAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ollama2api",
			Subsystem: "tunnel",
			Name:      "attempts_total",
			Help:      "Tunnel strategy attempts by outcome",
		},
		[]string{"strategy", "outcome"},
	)
)

var tunnelStates = []core.TunnelState{
	core.TunnelIdle, core.TunnelAttempting, core.TunnelEstablished, core.TunnelFailed, core.TunnelClosed,
}

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration, handlerPanicsTotal,
		completionsTotal, completionDuration, firstChunkDuration, streamChunksTotal,
		backendErrorsTotal, cacheLookupsTotal, tunnelState, tunnelAttemptsTotal,
	)
}

// PrometheusMiddleware instruments gin requests. Unmatched routes share one label value.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(route, c.Request.Method, status).Inc()
		httpRequestDuration.WithLabelValues(route, c.Request.Method, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetTunnelState flips the state gauge so exactly one state reads 1.
func SetTunnelState(state core.TunnelState) {
	for _, s := range tunnelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		tunnelState.WithLabelValues(s.String()).Set(v)
	}
}

// IncTunnelAttempt counts one strategy attempt.
func IncTunnelAttempt(strategy, outcome string) {
	tunnelAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}
