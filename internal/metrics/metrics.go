// Package metrics exposes Prometheus instrumentation for the generation
// pipeline. Vectors are registered once at package init via promauto and
// recorded through the package-level helpers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wayfarer_llm_request_duration_seconds",
			Help:    "Language-model request duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"model", "status"},
	)

	llmRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_llm_retries_total",
			Help: "Total language-model request retries",
		},
		[]string{"model"},
	)

	placesRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_places_requests_total",
			Help: "Total places API requests by status",
		},
		[]string{"status"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wayfarer_phase_duration_seconds",
			Help:    "Pipeline phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2000s
		},
		[]string{"phase"},
	)

	quotaConsumed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wayfarer_quota_consumed",
			Help: "Quota consumed in the current run by resource type",
		},
		[]string{"resource"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfarer_runs_total",
			Help: "Total generation runs by final status",
		},
		[]string{"status"},
	)
)

// ObserveLLMRequest records one model request.
func ObserveLLMRequest(model, status string, d time.Duration) {
	llmRequestDuration.WithLabelValues(model, status).Observe(d.Seconds())
}

// RecordLLMRetry counts one model request retry.
func RecordLLMRetry(model string) {
	llmRetries.WithLabelValues(model).Inc()
}

// RecordPlacesRequest counts one places API request.
func RecordPlacesRequest(status string) {
	placesRequests.WithLabelValues(status).Inc()
}

// ObservePhase records one pipeline phase duration.
func ObservePhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetQuotaConsumed publishes the current run's consumption for a resource.
func SetQuotaConsumed(resource string, consumed int) {
	quotaConsumed.WithLabelValues(resource).Set(float64(consumed))
}

// RecordRunFinished counts a finished run by its final status.
func RecordRunFinished(status string) {
	runsTotal.WithLabelValues(status).Inc()
}
