package entitled

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// ReconcilerConfig holds configuration for the Reconciler.
type ReconcilerConfig struct {
	// Store is the user store adapter (required).
	Store UserStore

	// MaxRetries bounds compare-and-set retries on concurrent revision
	// changes before surfacing ErrReconciliationConflict. Default: 3.
	MaxRetries int

	// RetryBackoff is the delay between retries. Default: 50ms, linear.
	RetryBackoff time.Duration

	// Logger is optional; nil means no logging.
	Logger Logger

	// Metrics is optional; nil means no metrics.
	Metrics Metrics
}

// Reconciler applies normalized entitlement events to the user registry
// under an idempotency and ordering discipline. It is safe for concurrent
// use; all cross-invocation coordination happens through the store's
// compare-and-set primitive.
type Reconciler struct {
	store      UserStore
	maxRetries int
	backoff    time.Duration
	logger     Logger
	metrics    Metrics
}

// NewReconciler creates a Reconciler from config.
func NewReconciler(config ReconcilerConfig) (*Reconciler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Reconciler{
		store:      config.Store,
		maxRetries: config.MaxRetries,
		backoff:    config.RetryBackoff,
		logger:     config.Logger,
		metrics:    config.Metrics,
	}, nil
}

// Apply applies a normalized event to the user registry.
//
// The subject is resolved by user id, then billing identity, then email.
// Events carrying a provider id are deduplicated against the processed-event
// log; synthetic poll events are idempotent by construction and skip that
// check. An event older than the user's last applied change is skipped
// rather than allowed to regress entitlement.
func (r *Reconciler) Apply(ctx context.Context, event *Event) (ApplyResult, error) {
	if event == nil {
		return "", fmt.Errorf("%w: nil event", ErrInvalidPayload)
	}
	if event.UserID == "" && event.CustomerID == "" && event.Email == "" {
		return "", ErrUnresolvedSubject
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			r.metrics.RecordReconcileRetry()
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		user, err := r.resolve(ctx, event)
		if err != nil {
			return "", err
		}

		if !event.Synthetic() {
			seen, err := r.store.SeenEvent(ctx, user.ID, event.ID)
			if err != nil {
				return "", fmt.Errorf("dedup lookup: %w", err)
			}
			if seen {
				r.logger.Debug("duplicate event skipped",
					Field{Key: "user_id", Value: user.ID},
					Field{Key: "event_id", Value: event.ID})
				return ResultSkippedDuplicate, nil
			}
		}

		// Out-of-order protection: never let an older event overwrite a
		// fresher applied change.
		if !event.OccurredAt.IsZero() && !user.EntitlementUpdatedAt.IsZero() &&
			event.OccurredAt.Before(user.EntitlementUpdatedAt) {
			r.logger.Info("stale event skipped",
				Field{Key: "user_id", Value: user.ID},
				Field{Key: "event_type", Value: event.Type},
				Field{Key: "occurred_at", Value: event.OccurredAt},
				Field{Key: "applied_at", Value: user.EntitlementUpdatedAt})
			return ResultSkippedStale, nil
		}

		mut := r.buildMutation(user, event)
		err = r.store.CompareAndSet(ctx, user.ID, user.Revision, mut)
		if err == nil {
			if user.Tier != event.Tier {
				r.metrics.RecordTierChange(string(user.Tier), string(event.Tier))
			}
			r.logger.Info("event applied",
				Field{Key: "user_id", Value: user.ID},
				Field{Key: "event_type", Value: event.Type},
				Field{Key: "tier", Value: event.Tier})
			return ResultApplied, nil
		}
		if errors.Is(err, ErrRevisionConflict) {
			continue
		}
		return "", fmt.Errorf("apply event: %w", err)
	}

	return "", ErrReconciliationConflict
}

// resolve finds the target user for the event subject.
func (r *Reconciler) resolve(ctx context.Context, event *Event) (*User, error) {
	if event.UserID != "" {
		return r.store.FindByID(ctx, event.UserID)
	}
	if event.CustomerID != "" {
		user, err := r.store.FindByCustomerID(ctx, event.CustomerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}
	if event.Email != "" {
		return r.store.FindByEmail(ctx, event.Email)
	}
	return nil, ErrUserNotFound
}

// buildMutation turns the event into one conditional write unit.
func (r *Reconciler) buildMutation(user *User, event *Event) Mutation {
	tier := event.Tier
	mut := Mutation{
		Tier:    &tier,
		EventID: event.ID,
	}
	if !event.OccurredAt.IsZero() {
		occurredAt := event.OccurredAt
		mut.OccurredAt = &occurredAt
	}
	if event.SubscriptionID != "" || event.Tier == TierFree {
		// A downgrade clears the stored subscription id.
		subID := event.SubscriptionID
		mut.SubscriptionID = &subID
	}
	if event.CustomerID != "" && user.CustomerID == "" {
		customerID := event.CustomerID
		mut.CustomerID = &customerID
	}
	return mut
}
