package observability

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports calculation counts and latencies. Operations of
// the form "calculate:<variable>" are labelled by variable.
type PrometheusRecorder struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microsim",
			Name:      "calculations_total",
			Help:      "Top-level variable calculations by outcome.",
		}, []string{"operation", "variable", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microsim",
			Name:      "calculation_duration_seconds",
			Help:      "Latency of top-level variable calculations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"operation", "variable"}),
	}
	for _, c := range []prometheus.Collector{r.calls, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements the engine's MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, op string, success bool, d time.Duration) {
	if op == "" {
		return
	}
	kind, variable := splitOperation(op)
	status := "success"
	if !success {
		status = "error"
	}
	r.calls.WithLabelValues(kind, variable, status).Inc()
	r.duration.WithLabelValues(kind, variable).Observe(d.Seconds())
}

func splitOperation(op string) (kind, variable string) {
	kind, variable, _ = strings.Cut(op, ":")
	return kind, variable
}
