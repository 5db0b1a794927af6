package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitled.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	verificationsTotal        *prometheus.CounterVec
	verificationDuration      prometheus.Histogram
	tierChangesTotal          *prometheus.CounterVec
	customersCreatedTotal     *prometheus.CounterVec
	providerCallsTotal        *prometheus.CounterVec
	providerCallDuration      *prometheus.HistogramVec
	reconcileRetriesTotal     prometheus.Counter
}

// NewMetrics creates a new Prometheus metrics implementation for the
// reconciliation engine.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received.",
		}, []string{"event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook rejections.",
		}, []string{"error_type"}),

		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "verifications_total",
			Help:      "Total number of verification polls.",
		}, []string{"status"}),

		verificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "verification_duration_seconds",
			Help:      "Duration of verification polls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		tierChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "tier_changes_total",
			Help:      "Total number of tier changes.",
		}, []string{"from_tier", "to_tier"}),

		customersCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "customers_created_total",
			Help:      "Total number of provider customers created, by link outcome.",
		}, []string{"outcome"}),

		providerCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "provider_calls_total",
			Help:      "Total number of outbound billing provider API calls.",
		}, []string{"endpoint", "status"}),

		providerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of billing provider API calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		reconcileRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "reconcile_retries_total",
			Help:      "Total number of compare-and-set retries caused by concurrent revision changes.",
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordVerification(status string) {
	m.verificationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordVerificationDuration(duration time.Duration) {
	m.verificationDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordTierChange(fromTier, toTier string) {
	m.tierChangesTotal.WithLabelValues(fromTier, toTier).Inc()
}

func (m *Metrics) RecordCustomerCreated(outcome string) {
	m.customersCreatedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProviderCall(endpoint, status string) {
	m.providerCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordProviderCallDuration(endpoint string, duration time.Duration) {
	m.providerCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordReconcileRetry() {
	m.reconcileRetriesTotal.Inc()
}
