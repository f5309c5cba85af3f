// Package telemetry holds the prometheus instruments shared by the API
// server and the workers, plus trace-id helpers.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"strings"
)

var (
	// HTTPRequestDuration observes every API request.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "devlens_http_request_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"method", "path", "status"})

	// SSEStartupLatency observes the time until a stream's first event.
	SSEStartupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "devlens_sse_startup_latency_seconds",
		Help: "Latency until first SSE event is emitted.",
	}, []string{"endpoint"})

	// StageDuration observes pipeline stage runs by outcome.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "devlens_analysis_stage_duration_seconds",
		Help: "Duration of analysis worker stages.",
	}, []string{"stage", "status"})

	// LLMProviderAttempts counts summary attempts per provider.
	LLMProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlens_llm_provider_attempts_total",
		Help: "LLM provider summary attempts by provider/status/error code.",
	}, []string{"provider", "status", "error_code"})

	// LLMFallbacks counts primary-to-fallback switches.
	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlens_llm_fallback_total",
		Help: "LLM provider fallback events.",
	}, []string{"primary_provider", "fallback_provider", "reason"})
)

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return strings.ToLower(v)
}

// RecordStageDuration observes one stage run.
func RecordStageDuration(stage, status string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	StageDuration.WithLabelValues(stage, status).Observe(seconds)
}

// RecordLLMProviderAttempt counts one provider call. errorCode is "none" for
// successes.
func RecordLLMProviderAttempt(provider, status, errorCode string) {
	if errorCode == "" {
		errorCode = "none"
	}
	LLMProviderAttempts.WithLabelValues(orUnknown(provider), orUnknown(status), strings.ToLower(errorCode)).Inc()
}

// RecordLLMFallback counts one switch to the fallback provider.
func RecordLLMFallback(primary, fallback, reason string) {
	LLMFallbacks.WithLabelValues(orUnknown(primary), orUnknown(fallback), orUnknown(reason)).Inc()
}

// ObserveSSEStartup observes the latency to first event for one endpoint.
func ObserveSSEStartup(endpoint string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	SSEStartupLatency.WithLabelValues(endpoint).Observe(seconds)
}

// Handler exposes the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics runs a standalone metrics listener, used by the workers.
func ServeMetrics(addr string, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener failed")
		}
	}()
	return server
}
