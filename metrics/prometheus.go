package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports protocol events as prometheus metrics
// under the "paywall" namespace.
type PrometheusRecorder struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the paywall metric vectors with the
// default registry. Call it at most once per process.
func NewPrometheusRecorder() Recorder {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "events_total",
			Help:      "Payment protocol events by type and network.",
		},
		[]string{"type", "network"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywall",
			Name:      "latency_seconds",
			Help:      "Payment protocol operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	prometheus.MustRegister(events, latency)

	return &PrometheusRecorder{events: events, latency: latency}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.events.With(prometheus.Labels{
		"type":    name,
		"network": labels["network"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.latency.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}
