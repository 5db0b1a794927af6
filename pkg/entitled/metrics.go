package entitled

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - components should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the provider.
	// status: "applied", "skipped_duplicate", "skipped_stale", "ignored", "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long webhook handling took.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook rejection.
	// errorType: "auth_failed", "invalid_payload", "payload_too_large",
	// "unresolved_subject", "user_not_found", "processing_error"
	RecordWebhookError(errorType string)

	// RecordVerification records a verification poll.
	// status: "success" or "error"
	RecordVerification(status string)

	// RecordVerificationDuration records how long a verification poll took.
	RecordVerificationDuration(duration time.Duration)

	// RecordTierChange records when a user's tier changes.
	RecordTierChange(fromTier, toTier string)

	// RecordCustomerCreated records a provider customer creation.
	// outcome: "linked" or "discarded" (lost a concurrent link race)
	RecordCustomerCreated(outcome string)

	// RecordProviderCall records an outbound API call to the provider.
	// status: "success" or "error"
	RecordProviderCall(endpoint, status string)

	// RecordProviderCallDuration records how long a provider call took.
	RecordProviderCallDuration(endpoint string, duration time.Duration)

	// RecordReconcileRetry records a compare-and-set retry caused by a
	// concurrent revision change.
	RecordReconcileRetry()
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordVerification(_ string)                               {}
func (n *NoopMetrics) RecordVerificationDuration(_ time.Duration)                {}
func (n *NoopMetrics) RecordTierChange(_, _ string)                              {}
func (n *NoopMetrics) RecordCustomerCreated(_ string)                            {}
func (n *NoopMetrics) RecordProviderCall(_, _ string)                            {}
func (n *NoopMetrics) RecordProviderCallDuration(_ string, _ time.Duration)      {}
func (n *NoopMetrics) RecordReconcileRetry()                                     {}
