package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)

	m.ObserveCreated(120 * time.Millisecond)
	m.ObserveRejected("STOCK_EXCEEDED", 10*time.Millisecond)
	m.ObserveRejected("STOCK_EXCEEDED", 10*time.Millisecond)
	m.ObserveDispatch("accepted")
	m.ObserveDispatch("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := fetchCounterValue(t, mfs, "storefront_orders_created_total", "", ""); got != 1 {
		t.Fatalf("expected created=1, got %f", got)
	}
	if got := fetchCounterValue(t, mfs, "storefront_orders_rejected_total", "code", "STOCK_EXCEEDED"); got != 2 {
		t.Fatalf("expected rejected=2, got %f", got)
	}
	if got := fetchCounterValue(t, mfs, "storefront_order_confirmations_total", "result", "unknown"); got != 1 {
		t.Fatalf("expected empty dispatch label to normalize, got %f", got)
	}
	if got := fetchHistogramCount(t, mfs, "storefront_order_create_duration_seconds", "outcome", "rejected"); got != 2 {
		t.Fatalf("expected 2 rejected observations, got %d", got)
	}
}

func TestVerificationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVerificationMetrics(reg)
	m.Observe("login", "verified")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := fetchCounterValue(t, mfs, "storefront_verification_outcomes_total", "outcome", "verified"); got != 1 {
		t.Fatalf("expected verified=1, got %f", got)
	}
}

func TestNilRecordersAreNoops(t *testing.T) {
	var checkout *CheckoutMetrics
	checkout.ObserveCreated(time.Second)
	checkout.ObserveDispatch("accepted")
	NewCheckoutMetrics(nil).ObserveRejected("X", time.Second)

	var verification *VerificationMetrics
	verification.Observe("login", "verified")
	NewVerificationMetrics(nil).Observe("login", "verified")
}

func fetchCounterValue(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	metric := findMetric(t, mfs, name, label, value)
	return metric.GetCounter().GetValue()
}

func fetchHistogramCount(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) uint64 {
	t.Helper()
	metric := findMetric(t, mfs, name, label, value)
	return metric.GetHistogram().GetSampleCount()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label == "" || matchesLabel(metric.GetLabel(), label, value) {
				return metric
			}
		}
	}
	t.Fatalf("%s", fmt.Sprintf("metric %q with %s=%s not found", name, label, value))
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, pair := range labels {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}
