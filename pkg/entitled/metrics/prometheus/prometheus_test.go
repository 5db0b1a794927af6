package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("checkout.session.completed", "applied")
	metrics.RecordWebhookEvent("checkout.session.completed", "skipped_duplicate")
	metrics.RecordWebhookProcessingDuration("checkout.session.completed", 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var events *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "test_entitlement_webhook_events_total" {
			events = family
		}
	}
	if events == nil {
		t.Fatal("Expected webhook events metric family")
	}
	if len(events.GetMetric()) != 2 {
		t.Errorf("Expected 2 label combinations, got %d", len(events.GetMetric()))
	}
}

func TestRecordWebhookError(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookError("auth_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected webhook error metrics to be recorded")
	}
}

func TestRecordVerification(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordVerification("success")
	metrics.RecordVerificationDuration(50 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected verification metrics to be recorded")
	}
}

func TestRecordTierChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordTierChange("free", "premium")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var changes *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "test_entitlement_tier_changes_total" {
			changes = family
		}
	}
	if changes == nil {
		t.Fatal("Expected tier changes metric family")
	}
	if got := changes.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("Expected counter value 1, got %v", got)
	}
}

func TestRecordCustomerCreated(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCustomerCreated("linked")
	metrics.RecordCustomerCreated("discarded")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected customer creation metrics to be recorded")
	}
}

func TestRecordProviderCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordProviderCall("/customers", "success")
	metrics.RecordProviderCall("/customers", "error")
	metrics.RecordProviderCallDuration("/customers", 100*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected provider call metrics to be recorded")
	}
}

func TestRecordReconcileRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordReconcileRetry()
	metrics.RecordReconcileRetry()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var retries *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "test_entitlement_reconcile_retries_total" {
			retries = family
		}
	}
	if retries == nil {
		t.Fatal("Expected reconcile retries metric family")
	}
	if got := retries.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("Expected counter value 2, got %v", got)
	}
}
