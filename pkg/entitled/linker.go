package entitled

import (
	"context"
	"errors"
	"fmt"
)

// LinkerConfig holds configuration for the Linker.
type LinkerConfig struct {
	// Store is the user store adapter (required).
	Store UserStore

	// Client is the billing provider client (required).
	Client BillingClient

	// Logger is optional; nil means no logging.
	Logger Logger

	// Metrics is optional; nil means no metrics.
	Metrics Metrics
}

// Linker resolves or creates the provider-side billing identity for a user,
// guaranteeing exactly one identity per user even under concurrent requests.
type Linker struct {
	store   UserStore
	client  BillingClient
	logger  Logger
	metrics Metrics
}

// NewLinker creates a Linker from config.
func NewLinker(config LinkerConfig) (*Linker, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("billing client is required")
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Linker{
		store:   config.Store,
		client:  config.Client,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// EnsureCustomer returns the user's billing identity, creating it on the
// provider if absent.
//
// The winner is the first committer, not the first creator: the provider
// customer is created first, then written onto the record with a
// compare-and-set conditioned on the identity still being absent at the
// revision read here. A lost race discards the freshly created customer and
// returns the identity the concurrent call already stored.
func (l *Linker) EnsureCustomer(ctx context.Context, user *User) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("%w: missing user", ErrUserNotFound)
	}
	if user.CustomerID != "" {
		return user.CustomerID, nil
	}

	// Re-read so the CAS is conditioned on fresh state, not on however old
	// the caller's copy is.
	current, err := l.store.FindByID(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if current.CustomerID != "" {
		return current.CustomerID, nil
	}

	customerID, err := l.client.CreateCustomer(ctx, current)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	mut := Mutation{CustomerID: &customerID}
	err = l.store.CompareAndSet(ctx, current.ID, current.Revision, mut)
	if err == nil {
		l.metrics.RecordCustomerCreated("linked")
		l.logger.Info("billing identity linked",
			Field{Key: "user_id", Value: current.ID},
			Field{Key: "customer_id", Value: customerID})
		return customerID, nil
	}
	if !errors.Is(err, ErrRevisionConflict) && !errors.Is(err, ErrCustomerExists) {
		return "", fmt.Errorf("link customer: %w", err)
	}

	// Lost the race. Keep whatever identity won and discard ours so it is
	// not left as an active provider record.
	winner, ferr := l.store.FindByID(ctx, current.ID)
	if ferr != nil {
		return "", ferr
	}
	if winner.CustomerID == "" || winner.CustomerID == customerID {
		// The conflicting write touched something else; retry the link
		// against the fresh revision before giving up the new customer.
		mut := Mutation{CustomerID: &customerID}
		if rerr := l.store.CompareAndSet(ctx, winner.ID, winner.Revision, mut); rerr == nil {
			l.metrics.RecordCustomerCreated("linked")
			return customerID, nil
		}
		winner, ferr = l.store.FindByID(ctx, current.ID)
		if ferr != nil {
			return "", ferr
		}
		if winner.CustomerID == "" {
			// Retry budget spent with no identity committed. The customer
			// must not outlive the failed link.
			l.discard(ctx, customerID)
			return "", fmt.Errorf("link customer: %w", ErrReconciliationConflict)
		}
	}

	l.discard(ctx, customerID)
	l.logger.Warn("concurrent link race lost, discarding customer",
		Field{Key: "user_id", Value: current.ID},
		Field{Key: "discarded_customer_id", Value: customerID},
		Field{Key: "customer_id", Value: winner.CustomerID})
	return winner.CustomerID, nil
}

// discard best-effort deletes a provider customer that lost a link race.
// Failures are logged, never retried into the store.
func (l *Linker) discard(ctx context.Context, customerID string) {
	l.metrics.RecordCustomerCreated("discarded")
	if err := l.client.DeleteCustomer(ctx, customerID); err != nil {
		l.logger.Error("failed to delete orphaned customer",
			Field{Key: "customer_id", Value: customerID},
			Field{Key: "error", Value: err.Error()})
	}
}
