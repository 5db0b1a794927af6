package entitled_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/entitled/pkg/entitled"
	"github.com/mihaimyh/entitled/storage/memory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	err := store.Create(context.Background(), &entitled.User{
		ID:    "user-1",
		Email: "alice@example.com",
	})
	require.NoError(t, err)
	return store
}

func newTestReconciler(t *testing.T, store entitled.UserStore) *entitled.Reconciler {
	t.Helper()
	reconciler, err := entitled.NewReconciler(entitled.ReconcilerConfig{Store: store})
	require.NoError(t, err)
	return reconciler
}

func TestApply_GrantsPremium(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)
	ctx := context.Background()

	result, err := reconciler.Apply(ctx, &entitled.Event{
		ID:             "evt_1",
		Type:           "checkout.session.completed",
		Email:          "alice@example.com",
		CustomerID:     "cus_1",
		Tier:           entitled.TierPremium,
		SubscriptionID: "sub_1",
		OccurredAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultApplied, result)

	user, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitled.TierPremium, user.Tier)
	assert.Equal(t, "sub_1", user.SubscriptionID)
	assert.Equal(t, "cus_1", user.CustomerID)
	assert.Equal(t, int64(1), user.Revision)
}

func TestApply_DuplicateEventIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)
	ctx := context.Background()

	event := &entitled.Event{
		ID:             "evt_dup",
		Type:           "invoice.payment_succeeded",
		Email:          "alice@example.com",
		Tier:           entitled.TierPremium,
		SubscriptionID: "sub_1",
		OccurredAt:     time.Now(),
	}

	result, err := reconciler.Apply(ctx, event)
	require.NoError(t, err)
	require.Equal(t, entitled.ResultApplied, result)

	first, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)

	// Redelivery of the same event id must change nothing.
	result, err = reconciler.Apply(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultSkippedDuplicate, result)

	second, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestApply_OutOfOrderEventsDoNotRegress(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(-time.Hour)

	premium := func() *entitled.Event {
		return &entitled.Event{
			ID:             "evt_new",
			Email:          "alice@example.com",
			Tier:           entitled.TierPremium,
			SubscriptionID: "sub_1",
			OccurredAt:     t1,
		}
	}
	free := func() *entitled.Event {
		return &entitled.Event{
			ID:         "evt_old",
			Email:      "alice@example.com",
			Tier:       entitled.TierFree,
			OccurredAt: t2,
		}
	}

	tests := []struct {
		name   string
		events []*entitled.Event
	}{
		{name: "fresh then stale", events: []*entitled.Event{premium(), free()}},
		{name: "stale then fresh", events: []*entitled.Event{free(), premium()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			reconciler := newTestReconciler(t, store)
			ctx := context.Background()

			for _, event := range tt.events {
				_, err := reconciler.Apply(ctx, event)
				require.NoError(t, err)
			}

			user, err := store.FindByID(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, entitled.TierPremium, user.Tier)
		})
	}
}

func TestApply_StaleEventReported(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)
	ctx := context.Background()

	now := time.Now()
	_, err := reconciler.Apply(ctx, &entitled.Event{
		ID:         "evt_1",
		Email:      "alice@example.com",
		Tier:       entitled.TierPremium,
		OccurredAt: now,
	})
	require.NoError(t, err)

	result, err := reconciler.Apply(ctx, &entitled.Event{
		ID:         "evt_2",
		Email:      "alice@example.com",
		Tier:       entitled.TierFree,
		OccurredAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultSkippedStale, result)
}

func TestApply_UnresolvedSubject(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)

	_, err := reconciler.Apply(context.Background(), &entitled.Event{
		ID:   "evt_1",
		Tier: entitled.TierPremium,
	})
	assert.ErrorIs(t, err, entitled.ErrUnresolvedSubject)

	user, ferr := store.FindByID(context.Background(), "user-1")
	require.NoError(t, ferr)
	assert.Equal(t, int64(0), user.Revision)
}

func TestApply_UserNotFound(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)

	_, err := reconciler.Apply(context.Background(), &entitled.Event{
		ID:    "evt_1",
		Email: "nobody@example.com",
		Tier:  entitled.TierPremium,
	})
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
}

func TestApply_ResolvesByCustomerThenEmail(t *testing.T) {
	store := newTestStore(t)
	reconciler := newTestReconciler(t, store)
	ctx := context.Background()

	// Customer id unknown, email known: resolution falls through.
	result, err := reconciler.Apply(ctx, &entitled.Event{
		ID:         "evt_1",
		CustomerID: "cus_unknown",
		Email:      "alice@example.com",
		Tier:       entitled.TierPremium,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultApplied, result)

	// The event's customer id was linked, so the next one resolves by it.
	result, err = reconciler.Apply(ctx, &entitled.Event{
		ID:         "evt_2",
		CustomerID: "cus_unknown",
		Tier:       entitled.TierPremium,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultApplied, result)
}

// conflictingStore forces revision conflicts for the first n CompareAndSet
// calls by sneaking an unrelated mutation in front of each.
type conflictingStore struct {
	entitled.UserStore
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut entitled.Mutation) error {
	s.mu.Lock()
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()

	if inject {
		user, err := s.UserStore.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		tier := user.Tier
		if err := s.UserStore.CompareAndSet(ctx, userID, user.Revision, entitled.Mutation{Tier: &tier}); err != nil {
			return err
		}
	}
	return s.UserStore.CompareAndSet(ctx, userID, expectedRevision, mut)
}

func TestApply_RetriesOnRevisionConflict(t *testing.T) {
	store := newTestStore(t)
	wrapped := &conflictingStore{UserStore: store, conflicts: 2}
	reconciler, err := entitled.NewReconciler(entitled.ReconcilerConfig{
		Store:        wrapped,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	result, err := reconciler.Apply(context.Background(), &entitled.Event{
		ID:         "evt_1",
		Email:      "alice@example.com",
		Tier:       entitled.TierPremium,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, entitled.ResultApplied, result)
}

func TestApply_SurfacesConflictAfterRetryBudget(t *testing.T) {
	store := newTestStore(t)
	wrapped := &conflictingStore{UserStore: store, conflicts: 100}
	reconciler, err := entitled.NewReconciler(entitled.ReconcilerConfig{
		Store:        wrapped,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = reconciler.Apply(context.Background(), &entitled.Event{
		ID:         "evt_1",
		Email:      "alice@example.com",
		Tier:       entitled.TierPremium,
		OccurredAt: time.Now(),
	})
	assert.ErrorIs(t, err, entitled.ErrReconciliationConflict)
}
