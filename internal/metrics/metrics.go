package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the planning pipeline.
type Metrics struct {
	// Stage metrics
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Model call metrics
	ModelCalls   *prometheus.CounterVec
	ModelLatency prometheus.Histogram
	ModelTokens  *prometheus.CounterVec
	LimiterWait  prometheus.Histogram

	// Job and stream metrics
	Jobs              *prometheus.CounterVec
	JobDuration       prometheus.Histogram
	EventsEmitted     *prometheus.CounterVec
	ActiveSubscribers prometheus.Gauge
	Sessions          prometheus.Gauge
	Uploads           *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// Get returns the process-wide metrics, registering them on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			StageRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_stage_runs_total",
					Help: "Stage executions by stage and outcome",
				},
				[]string{"stage", "outcome"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "prepx_stage_duration_seconds",
					Help:    "Stage duration including rate-limit waits",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to 256s
				},
				[]string{"stage"},
			),
			ModelCalls: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_model_calls_total",
					Help: "Outbound model calls by label and result",
				},
				[]string{"label", "result"},
			),
			ModelLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "prepx_model_call_duration_seconds",
					Help:    "Latency of outbound model calls",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
			),
			ModelTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_model_tokens_total",
					Help: "Model tokens by direction",
				},
				[]string{"direction"},
			),
			LimiterWait: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "prepx_limiter_wait_seconds",
					Help:    "Time spent waiting for the global call interval",
					Buckets: prometheus.LinearBuckets(0, 2, 10),
				},
			),
			Jobs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_jobs_total",
					Help: "Plan jobs by outcome",
				},
				[]string{"outcome"},
			),
			JobDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "prepx_job_duration_seconds",
					Help:    "Wall time of plan jobs",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
			),
			EventsEmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_events_emitted_total",
					Help: "Progress events emitted by status",
				},
				[]string{"status"},
			),
			ActiveSubscribers: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "prepx_stream_subscribers",
					Help: "Live event stream subscribers",
				},
			),
			Sessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "prepx_sessions",
					Help: "Sessions held by the registry",
				},
			),
			Uploads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prepx_uploads_total",
					Help: "Uploaded documents by type",
				},
				[]string{"doc_type"},
			),
		}
	})
	return sharedMetrics
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}
