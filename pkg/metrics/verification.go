package metrics

import "github.com/prometheus/client_golang/prometheus"

// VerificationMetrics counts human-verification gate decisions.
type VerificationMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewVerificationMetrics(reg prometheus.Registerer) *VerificationMetrics {
	if reg == nil {
		return &VerificationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_verification_outcomes_total",
		Help: "Verification gate outcomes, by action and outcome.",
	}, []string{"action", "outcome"})
	reg.MustRegister(outcomes)
	return &VerificationMetrics{outcomes: outcomes}
}

// Observe increments the counter for action/outcome (issued, verified, rejected, claimed, denied).
func (m *VerificationMetrics) Observe(action, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}
