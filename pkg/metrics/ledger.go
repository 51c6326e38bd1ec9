package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks pledge recalculations and mutation outcomes.
type LedgerMetrics struct {
	recalculations  *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	mutations       *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger collectors on reg. A nil registerer
// yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	recalculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pledge_recalculations_total",
		Help:      "Pledge aggregate recalculations by outcome.",
	}, []string{"outcome"})
	partialFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_partial_failures_total",
		Help:      "Ledger mutations that failed after their first write, by step.",
	}, []string{"operation", "step"})
	mutations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_mutation_duration_seconds",
		Help:      "Duration of ledger mutations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(recalculations, partialFailures, mutations)
	return &LedgerMetrics{
		recalculations:  recalculations,
		partialFailures: partialFailures,
		mutations:       mutations,
	}
}

// ObserveRecalculation counts one recalculation attempt.
func (m *LedgerMetrics) ObserveRecalculation(err error) {
	if m == nil || m.recalculations == nil {
		return
	}
	m.recalculations.WithLabelValues(outcome(err)).Inc()
}

// IncPartialFailure counts a mutation that stopped at step after writing.
func (m *LedgerMetrics) IncPartialFailure(operation, step string) {
	if m == nil || m.partialFailures == nil {
		return
	}
	m.partialFailures.WithLabelValues(normalizeLabel(operation), normalizeLabel(step)).Inc()
}

// ObserveMutation records how long a ledger mutation took.
func (m *LedgerMetrics) ObserveMutation(operation string, duration time.Duration) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}
