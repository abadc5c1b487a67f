package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Messages        *prometheus.CounterVec
	StepFailures    *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	ModelLatency    prometheus.Histogram
	PipelineLatency prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so instruments never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by pipeline outcome.",
		}, []string{"outcome"}),
		StepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "External call failures by step (notify, model, send, apology).",
		}, []string{"step"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_transitions_total",
			Help:      "Pipeline state machine transitions by destination state.",
		}, []string{"state"}),
		ModelLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_seconds",
			Help:      "Latency of model completions.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_latency_seconds",
			Help:      "End to end latency of one inbound message.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		gatherer: reg,
	}
}

// NewDefaultMetrics registers on a private registry that also carries the
// Go runtime and process collectors.
func NewDefaultMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetrics(reg)
}

func (m *Metrics) ObserveModelLatency(d time.Duration) {
	m.ModelLatency.Observe(d.Seconds())
}

func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	m.PipelineLatency.Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
