package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reveal state machine.
type Metrics struct {
	// Stage transitions by from/to stage
	Transitions *prometheus.CounterVec

	// Denied reveal operations by reason code
	Denials *prometheus.CounterVec

	// Time spent in evidence review before full disclosure
	ReviewDuration prometheus.Histogram

	// Requests purged by the retention sweep (vs explicit acknowledgment)
	RetentionPurges prometheus.Counter
}

// New creates a Metrics instance with all reveal metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_reveal_transitions_total",
			Help: "Total reveal stage transitions by from and to stage",
		}, []string{"from", "to"}),

		Denials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_reveal_denials_total",
			Help: "Total denied reveal operations by reason code",
		}, []string{"reason"}),

		ReviewDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_reveal_review_duration_seconds",
			Help:    "Time spent in evidence review before full disclosure",
			Buckets: prometheus.ExponentialBuckets(3600, 2, 10),
		}),

		RetentionPurges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_reveal_retention_purges_total",
			Help: "Total requests purged by the retention sweep",
		}),
	}
}

// IncrementTransition records a stage transition.
func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// IncrementDenial records a denied reveal operation.
func (m *Metrics) IncrementDenial(reason string) {
	if m != nil {
		m.Denials.WithLabelValues(reason).Inc()
	}
}

// ObserveReviewDuration records the elapsed evidence-review time.
func (m *Metrics) ObserveReviewDuration(d time.Duration) {
	if m != nil {
		m.ReviewDuration.Observe(d.Seconds())
	}
}

// IncrementRetentionPurge records a sweep-driven purge.
func (m *Metrics) IncrementRetentionPurge() {
	if m != nil {
		m.RetentionPurges.Inc()
	}
}
