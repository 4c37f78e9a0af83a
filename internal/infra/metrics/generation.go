package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		generationTasksTotal,
		providerCallLatencyMs,
		retryWaitsTotal,
		retryWaitSeconds,
		tasksInFlight,
	)
}

var (
	generationTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_generation_tasks_total",
			Help: "Generation tasks settled, by provider and outcome.",
		},
		[]string{"provider", "outcome"}, // completed | failed
	)

	providerCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_provider_call_latency_ms",
			Help:    "Latency of single provider generation calls in milliseconds.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 20000, 40000, 80000, 160000},
		},
		[]string{"provider", "model", "success"},
	)

	retryWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_retry_waits_total",
			Help: "Waits scheduled by the retry engine, by provider and kind.",
		},
		[]string{"provider", "kind"}, // rate_limited | backoff
	)

	retryWaitSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_retry_wait_seconds_total",
			Help: "Total seconds spent waiting before retries.",
		},
		[]string{"provider", "kind"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_tasks_in_flight",
			Help: "Generation tasks currently dispatched and not yet settled.",
		},
	)
)

func IncGenerationTask(provider, outcome string) {
	generationTasksTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func ObserveProviderCall(provider, model string, latencyMs int64, success bool) {
	providerCallLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func ObserveRetryWait(provider, kind string, seconds float64) {
	retryWaitsTotal.WithLabelValues(norm(provider), norm(kind)).Inc()
	retryWaitSeconds.WithLabelValues(norm(provider), norm(kind)).Add(seconds)
}

func AddTasksInFlight(delta int) {
	tasksInFlight.Add(float64(delta))
}
