package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exposes compression and tier activity as Prometheus
// counters and a histogram for `contextctl` deployments that run alongside a
// scrape target, mirroring the teacher's llm_* metric family narrowed to
// this module's domain.
type PrometheusRecorder struct {
	registry             *prometheus.Registry
	compressionRuns      *prometheus.CounterVec
	compressionFailures  *prometheus.CounterVec
	compressionTokens    *prometheus.CounterVec
	compressionDuration  *prometheus.HistogramVec
	tierTransitions      *prometheus.CounterVec
	emergencyActivations *prometheus.CounterVec
}

// NewPrometheusRecorder registers a fresh metric family on its own
// registry, so multiple PrometheusRecorder/test instances never collide on
// promauto's default global registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusRecorder{
		registry: registry,
		compressionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextcore_compression_runs_total",
			Help: "Total number of Checkpoint Compressor runs by tier and outcome.",
		}, []string{"tier", "status"}),
		compressionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextcore_compression_failures_total",
			Help: "Total number of Checkpoint Compressor runs that ended in CompressionFailed.",
		}, []string{"tier"}),
		compressionTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextcore_compression_tokens_total",
			Help: "Total tokens observed across compression runs, by tier and phase.",
		}, []string{"tier", "phase"}), // phase: input|output
		compressionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contextcore_compression_duration_seconds",
			Help:    "Duration of Checkpoint Compressor runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		tierTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextcore_tier_transitions_total",
			Help: "Total number of Tier Controller reclassifications, by origin and destination tier.",
		}, []string{"from", "to"}),
		emergencyActivations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contextcore_emergency_activations_total",
			Help: "Total number of emergency compaction protocol activations.",
		}, []string{"session_id"}),
	}
}

// ObserveCompression records one Checkpoint Compressor run.
func (p *PrometheusRecorder) ObserveCompression(o CompressionOutcome) {
	status := "success"
	if !o.Success {
		status = "failed"
		p.compressionFailures.WithLabelValues(o.TierID).Inc()
	}
	p.compressionRuns.WithLabelValues(o.TierID, status).Inc()
	if o.Success {
		p.compressionTokens.WithLabelValues(o.TierID, "input").Add(float64(o.InputTokens))
		p.compressionTokens.WithLabelValues(o.TierID, "output").Add(float64(o.OutputTokens))
	}
	p.compressionDuration.WithLabelValues(o.TierID).Observe(o.Duration.Seconds())
}

// ObserveTierTransition records a Tier Controller reclassification.
func (p *PrometheusRecorder) ObserveTierTransition(_ string, from, to string) {
	p.tierTransitions.WithLabelValues(from, to).Inc()
}

// ObserveEmergencyActivation records one emergency-compaction protocol run.
func (p *PrometheusRecorder) ObserveEmergencyActivation(sessionID string) {
	p.emergencyActivations.WithLabelValues(sessionID).Inc()
}

// Handler returns the http.Handler a CLI long-running mode can mount at
// /metrics for scraping.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
