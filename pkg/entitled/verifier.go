package entitled

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	// SubscriptionStatusActive is a paid, current subscription.
	SubscriptionStatusActive = "active"

	// SubscriptionStatusTrialing is a subscription in its trial period.
	SubscriptionStatusTrialing = "trialing"

	// statusNone is reported when the customer has no qualifying subscription.
	statusNone = "inactive"
)

// VerifierConfig holds configuration for the Verifier.
type VerifierConfig struct {
	// Store is the user store adapter (required).
	Store UserStore

	// Client is the billing provider client (required).
	Client BillingClient

	// Linker ensures a billing identity before polling (required).
	Linker *Linker

	// Reconciler applies the poll result (required).
	Reconciler *Reconciler

	// Now is the clock used to stamp synthetic events. Default: time.Now.
	Now func() time.Time

	// Logger is optional; nil means no logging.
	Logger Logger

	// Metrics is optional; nil means no metrics.
	Metrics Metrics
}

// Verifier is the on-demand repair path: it pulls the provider's current
// subscription state and routes it through the Reconciler, correcting drift
// from missed or duplicate webhooks. Always safe to call repeatedly.
type Verifier struct {
	store      UserStore
	client     BillingClient
	linker     *Linker
	reconciler *Reconciler
	now        func() time.Time
	logger     Logger
	metrics    Metrics
}

// NewVerifier creates a Verifier from config.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("billing client is required")
	}
	if config.Linker == nil {
		return nil, fmt.Errorf("linker is required")
	}
	if config.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Verifier{
		store:      config.Store,
		client:     config.Client,
		linker:     config.Linker,
		reconciler: config.Reconciler,
		now:        config.Now,
		logger:     config.Logger,
		metrics:    config.Metrics,
	}, nil
}

// Verify polls the provider for the user's current subscription state,
// reconciles the stored entitlement to it, and returns the snapshot.
//
// The most relevant subscription wins by status priority
// (active > trialing > anything else), ties broken by most recent creation.
// The synthetic event always carries the provider's current authoritative
// state, so applying the same poll result twice is a no-op by definition.
func (v *Verifier) Verify(ctx context.Context, user *User) (*Snapshot, error) {
	startTime := v.now()

	customerID, err := v.linker.EnsureCustomer(ctx, user)
	if err != nil {
		v.metrics.RecordVerification("error")
		return nil, err
	}

	subs, err := v.client.ListSubscriptions(ctx, customerID)
	if err != nil {
		v.metrics.RecordVerification("error")
		v.metrics.RecordVerificationDuration(v.now().Sub(startTime))
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	snapshot := buildSnapshot(subs)

	// Drift repair goes through the same reconciliation core as webhooks.
	// Skip the write entirely when the store already matches the snapshot,
	// so back-to-back verifies leave the record untouched.
	current, err := v.store.FindByID(ctx, user.ID)
	if err != nil {
		v.metrics.RecordVerification("error")
		return nil, err
	}
	if current.Tier != snapshot.Tier || current.SubscriptionID != snapshot.SubscriptionID {
		event := &Event{
			Type:           "verification.poll",
			UserID:         user.ID,
			CustomerID:     customerID,
			Tier:           snapshot.Tier,
			SubscriptionID: snapshot.SubscriptionID,
			OccurredAt:     v.now(),
			Verified:       true,
		}
		if _, err := v.reconciler.Apply(ctx, event); err != nil {
			v.metrics.RecordVerification("error")
			v.metrics.RecordVerificationDuration(v.now().Sub(startTime))
			return nil, fmt.Errorf("reconcile poll result: %w", err)
		}
		v.logger.Info("drift repaired from provider state",
			Field{Key: "user_id", Value: user.ID},
			Field{Key: "tier", Value: snapshot.Tier},
			Field{Key: "status", Value: snapshot.Status})
	}

	v.metrics.RecordVerification("success")
	v.metrics.RecordVerificationDuration(v.now().Sub(startTime))
	return snapshot, nil
}

// buildSnapshot selects the most relevant subscription and derives the
// entitlement it grants.
func buildSnapshot(subs []Subscription) *Snapshot {
	best := selectSubscription(subs)
	if best == nil {
		return &Snapshot{
			HasSubscription: false,
			Status:          statusNone,
			Tier:            TierFree,
		}
	}
	snapshot := &Snapshot{
		HasSubscription: true,
		Status:          best.Status,
		Tier:            TierPremium,
		SubscriptionID:  best.ID,
		Plan:            best.PriceID,
	}
	if !best.CurrentPeriodEnd.IsZero() {
		periodEnd := best.CurrentPeriodEnd
		snapshot.CurrentPeriodEnd = &periodEnd
	}
	return snapshot
}

// selectSubscription picks by status priority, most recent creation breaking
// ties. Returns nil when no subscription qualifies for entitlement.
func selectSubscription(subs []Subscription) *Subscription {
	if len(subs) == 0 {
		return nil
	}
	sorted := make([]Subscription, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := statusPriority(sorted[i].Status), statusPriority(sorted[j].Status)
		if pi != pj {
			return pi > pj
		}
		return sorted[i].Created.After(sorted[j].Created)
	})
	if statusPriority(sorted[0].Status) == 0 {
		return nil
	}
	return &sorted[0]
}

func statusPriority(status string) int {
	switch status {
	case SubscriptionStatusActive:
		return 2
	case SubscriptionStatusTrialing:
		return 1
	default:
		return 0
	}
}
