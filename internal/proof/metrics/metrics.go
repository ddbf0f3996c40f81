package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the proof engine.
type Metrics struct {
	// Submissions by outcome: "issued", "pending", "duplicate", "rejected"
	Submissions *prometheus.CounterVec

	// Leaves per finalized checkpoint
	BatchSize prometheus.Histogram

	// Checkpoint finalization latency including proof issuance
	FinalizeLatency prometheus.Histogram

	// Finalization failures (storage unavailable, frontier conflict)
	FinalizeFailures prometheus.Counter
}

// New creates a Metrics instance with all proof engine metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_proof_submissions_total",
			Help: "Total interaction submissions by outcome",
		}, []string{"outcome"}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_proof_batch_leaves",
			Help:    "Number of commitment leaves per finalized checkpoint",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		}),

		FinalizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veil_proof_finalize_duration_seconds",
			Help:    "Duration of checkpoint finalization including proof issuance",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		FinalizeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_proof_finalize_failures_total",
			Help: "Total failed checkpoint finalization attempts",
		}),
	}
}

// IncrementSubmission records a submission outcome.
func (m *Metrics) IncrementSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// ObserveBatch records a finalized batch's leaf count and duration.
func (m *Metrics) ObserveBatch(leaves int, d time.Duration) {
	if m != nil {
		m.BatchSize.Observe(float64(leaves))
		m.FinalizeLatency.Observe(d.Seconds())
	}
}

// IncrementFinalizeFailure records a failed finalization attempt.
func (m *Metrics) IncrementFinalizeFailure() {
	if m != nil {
		m.FinalizeFailures.Inc()
	}
}
