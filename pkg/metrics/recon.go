package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconMetrics records reconciliation outcomes and resilience state.
type ReconMetrics struct {
	outcomes      *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
}

// NewReconMetrics registers the reconciliation metrics on the provided
// registerer.
func NewReconMetrics(reg prometheus.Registerer) *ReconMetrics {
	if reg == nil {
		return &ReconMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_transactions_total",
		Help: "Webhook transactions by portal and terminal status.",
	}, []string{"portal", "status"})
	phaseDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recon_phase_duration_seconds",
		Help:    "Duration of reconciliation phases in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})
	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_batch_size",
		Help:    "Number of transactions per webhook delivery.",
		Buckets: []float64{1, 5, 15, 50, 100, 200, 500},
	}, []string{"portal"})
	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
	}, []string{"operation"})
	reg.MustRegister(outcomes, phaseDuration, batchSize, breakerState)
	return &ReconMetrics{
		outcomes:      outcomes,
		phaseDuration: phaseDuration,
		batchSize:     batchSize,
		breakerState:  breakerState,
	}
}

// IncOutcome increments the terminal-status counter for one transaction.
func (m *ReconMetrics) IncOutcome(portal, status string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(portal), normalizeLabel(status)).Inc()
}

// ObservePhase records how long a reconciliation phase took.
func (m *ReconMetrics) ObservePhase(phase string, duration time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(normalizeLabel(phase)).Observe(duration.Seconds())
}

// ObserveBatchSize records the transaction count of one delivery.
func (m *ReconMetrics) ObserveBatchSize(portal string, size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.WithLabelValues(normalizeLabel(portal)).Observe(float64(size))
}

// SetBreakerState publishes the current state of a named breaker.
func (m *ReconMetrics) SetBreakerState(operation string, state int) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeLabel(operation)).Set(float64(state))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
