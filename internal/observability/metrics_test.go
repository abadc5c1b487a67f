package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Messages.WithLabelValues("sent").Inc()
	m.Messages.WithLabelValues("sent").Inc()
	m.StepFailures.WithLabelValues("model").Inc()
	m.ObserveModelLatency(300 * time.Millisecond)
	m.ObservePipelineLatency(time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("sent")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StepFailures.WithLabelValues("model")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `relay_messages_total{outcome="sent"} 2`)
	require.Contains(t, string(body), "relay_model_latency_seconds_count 1")
}

func TestNewDefaultMetrics(t *testing.T) {
	// Separate registries mean repeated construction never panics.
	require.NotNil(t, NewDefaultMetrics())
	require.NotNil(t, NewDefaultMetrics())
}
