package entitled

import (
	"context"
	"time"
)

// Mutation is one conditional write unit applied by CompareAndSet.
// Nil pointer fields are left untouched. A successful CompareAndSet applies
// every set field, increments the revision, and records EventID in the
// processed-event log, all atomically.
type Mutation struct {
	// Tier sets the entitlement tier.
	Tier *Tier

	// CustomerID sets the billing identity. Setting it when a different
	// identity is already stored fails the whole write with
	// ErrCustomerExists; writing the same value is a no-op.
	CustomerID *string

	// SubscriptionID sets the active subscription id ("" clears it).
	SubscriptionID *string

	// OccurredAt sets EntitlementUpdatedAt.
	OccurredAt *time.Time

	// EventID, when non-empty, is recorded in the processed-event log as
	// part of the same write.
	EventID string
}

// UserStore is the only component touching persistent user records.
//
// Lookups return ErrUserNotFound when no record matches. CompareAndSet is
// the single serialization point per user: it succeeds only when the stored
// revision equals expectedRevision, and is all-or-nothing per attempt.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByCustomerID(ctx context.Context, customerID string) (*User, error)

	// CompareAndSet applies mut to the user iff the stored revision equals
	// expectedRevision. Returns ErrRevisionConflict on a lost race and
	// ErrCustomerExists when mut.CustomerID collides with a different
	// stored identity.
	CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut Mutation) error

	// SeenEvent reports whether eventID was already applied to the user
	// within the dedup retention window.
	SeenEvent(ctx context.Context, userID, eventID string) (bool, error)
}

// BillingClient abstracts the outbound provider API surface the engine
// needs. Implementations must honor context cancellation on all calls and
// carry bounded timeouts.
type BillingClient interface {
	// CreateCustomer creates a provider customer for the user and returns
	// its id. The customer is created with the user's email and id so
	// later events are resolvable by either.
	CreateCustomer(ctx context.Context, user *User) (string, error)

	// DeleteCustomer removes a provider customer. Used to discard the
	// losing identity after a concurrent EnsureCustomer race.
	DeleteCustomer(ctx context.Context, customerID string) error

	// ListSubscriptions returns all subscriptions under the customer,
	// regardless of status.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// CreateCheckoutSession starts a subscription checkout for the customer.
	CreateCheckoutSession(ctx context.Context, customerID, userID string) (*CheckoutSession, error)

	// CreatePortalSession returns a billing-portal URL for the customer.
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}
