package entitled

import "time"

// Tier is a user's entitlement level.
type Tier string

const (
	// TierFree is the default entitlement for users without a subscription.
	TierFree Tier = "free"

	// TierPremium is the entitlement granted by an active subscription.
	TierPremium Tier = "premium"
)

// User is the registry record reconciled by this engine.
// Mutations to entitlement fields go through UserStore.CompareAndSet only.
type User struct {
	// ID is the internal user identifier.
	ID string

	// Email is unique across users and usable as an event subject.
	Email string

	// CustomerID is the provider-side billing identity.
	// Empty until the Linker creates one; unique when present.
	CustomerID string

	// SubscriptionID is the active provider subscription, if any.
	SubscriptionID string

	// Tier is the current entitlement.
	Tier Tier

	// Revision increments on every committed mutation and is the
	// compare-and-set token for optimistic concurrency.
	Revision int64

	// EntitlementUpdatedAt is the occurred-at of the last applied event.
	// Used to reject out-of-order older events.
	EntitlementUpdatedAt time.Time
}

// Event is a normalized entitlement change.
//
// At least one of UserID, CustomerID, or Email must be set so the
// Reconciler can resolve the subject.
type Event struct {
	// ID is the provider-assigned event id, used for deduplication.
	// Empty for synthetic events produced by the Verifier, which are
	// idempotent by construction and never deduplicated by id.
	ID string

	// Type is the provider-specific event type, kept for observability.
	Type string

	// Subject fields, in resolution order.
	UserID     string
	CustomerID string
	Email      string

	// Tier is the target entitlement.
	Tier Tier

	// SubscriptionID is the provider subscription, when the payload
	// carries one.
	SubscriptionID string

	// OccurredAt is the provider timestamp of the event.
	OccurredAt time.Time

	// Verified reports whether the event's signature was checked.
	// False only in relaxed (non-production) webhook mode.
	Verified bool
}

// Synthetic reports whether the event was produced by a verification poll
// rather than a provider delivery.
func (e *Event) Synthetic() bool {
	return e.ID == ""
}

// ApplyResult is the outcome of Reconciler.Apply.
type ApplyResult string

const (
	// ResultApplied means the event mutated the user record.
	ResultApplied ApplyResult = "applied"

	// ResultSkippedDuplicate means the event id was already applied.
	ResultSkippedDuplicate ApplyResult = "skipped_duplicate"

	// ResultSkippedStale means a fresher event was already applied.
	ResultSkippedStale ApplyResult = "skipped_stale"
)

// Subscription is a provider-side subscription as returned by the
// billing client. Only the fields the Verifier selects on are carried.
type Subscription struct {
	ID               string
	Status           string
	PriceID          string
	Created          time.Time
	CurrentPeriodEnd time.Time
}

// CheckoutSession is a provider checkout session handed back to the caller.
type CheckoutSession struct {
	ID  string
	URL string
}

// Snapshot is the result of a verification poll, reflecting the
// provider's current authoritative state after reconciliation.
type Snapshot struct {
	HasSubscription  bool
	Status           string
	Tier             Tier
	SubscriptionID   string
	Plan             string
	CurrentPeriodEnd *time.Time
}
