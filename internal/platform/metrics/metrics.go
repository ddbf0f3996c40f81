package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application-level Prometheus metrics shared by the HTTP
// layer. Feature-specific metrics live next to their feature.
type Metrics struct {
	RequestLatency     *prometheus.HistogramVec
	IdentitiesAssigned prometheus.Counter
}

// New creates and registers all application-level metrics.
func New() *Metrics {
	return &Metrics{
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),

		IdentitiesAssigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_identities_assigned_total",
			Help: "Total anonymous identities assigned",
		}),
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, status).Observe(d.Seconds())
	}
}

// IncrementIdentitiesAssigned increments the assigned-identities counter.
func (m *Metrics) IncrementIdentitiesAssigned() {
	if m != nil {
		m.IdentitiesAssigned.Inc()
	}
}
