package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records order pipeline outcomes.
type CheckoutMetrics struct {
	duration *prometheus.HistogramVec
	created  prometheus.Counter
	rejected *prometheus.CounterVec
	dispatch *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_order_create_duration_seconds",
		Help:    "Duration of order creation attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_created_total",
		Help: "Orders persisted by the checkout pipeline.",
	})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_rejected_total",
		Help: "Order attempts rejected, by error code.",
	}, []string{"code"})
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_order_confirmations_total",
		Help: "Order confirmation dispatch attempts, by result.",
	}, []string{"result"})
	reg.MustRegister(duration, created, rejected, dispatch)
	return &CheckoutMetrics{
		duration: duration,
		created:  created,
		rejected: rejected,
		dispatch: dispatch,
	}
}

// ObserveCreated records a successful order.
func (m *CheckoutMetrics) ObserveCreated(elapsed time.Duration) {
	if m == nil || m.created == nil {
		return
	}
	m.created.Inc()
	m.duration.WithLabelValues("created").Observe(elapsed.Seconds())
}

// ObserveRejected records a failed order attempt under its error code.
func (m *CheckoutMetrics) ObserveRejected(code string, elapsed time.Duration) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(code)).Inc()
	m.duration.WithLabelValues("rejected").Observe(elapsed.Seconds())
}

// ObserveDispatch records whether a confirmation was accepted by the transport.
func (m *CheckoutMetrics) ObserveDispatch(result string) {
	if m == nil || m.dispatch == nil {
		return
	}
	m.dispatch.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
