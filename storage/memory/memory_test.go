package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

func seedUser(t *testing.T, store *Store) {
	t.Helper()
	err := store.Create(context.Background(), &entitled.User{
		ID:    "user-1",
		Email: "alice@example.com",
	})
	require.NoError(t, err)
}

func TestCreate(t *testing.T) {
	store := New()
	seedUser(t, store)
	ctx := context.Background()

	user, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitled.TierFree, user.Tier)
	assert.Equal(t, int64(0), user.Revision)

	// Duplicate id and duplicate email are both rejected.
	err = store.Create(ctx, &entitled.User{ID: "user-1", Email: "other@example.com"})
	assert.Error(t, err)
	err = store.Create(ctx, &entitled.User{ID: "user-2", Email: "alice@example.com"})
	assert.Error(t, err)
}

func TestLookups(t *testing.T) {
	store := New()
	require.NoError(t, store.Create(context.Background(), &entitled.User{
		ID:         "user-1",
		Email:      "alice@example.com",
		CustomerID: "cus_1",
	}))
	ctx := context.Background()

	byEmail, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)

	byCustomer, err := store.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byCustomer.ID)

	_, err = store.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
	_, err = store.FindByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
	_, err = store.FindByCustomerID(ctx, "cus_ghost")
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
}

func TestCompareAndSet(t *testing.T) {
	store := New()
	seedUser(t, store)
	ctx := context.Background()

	premium := entitled.TierPremium
	subID := "sub_1"
	occurredAt := time.Now()
	err := store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{
		Tier:           &premium,
		SubscriptionID: &subID,
		OccurredAt:     &occurredAt,
		EventID:        "evt_1",
	})
	require.NoError(t, err)

	user, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitled.TierPremium, user.Tier)
	assert.Equal(t, "sub_1", user.SubscriptionID)
	assert.Equal(t, int64(1), user.Revision)
	assert.True(t, user.EntitlementUpdatedAt.Equal(occurredAt))
}

func TestCompareAndSet_RevisionConflict(t *testing.T) {
	store := New()
	seedUser(t, store)
	ctx := context.Background()

	premium := entitled.TierPremium
	err := store.CompareAndSet(ctx, "user-1", 5, entitled.Mutation{Tier: &premium})
	assert.ErrorIs(t, err, entitled.ErrRevisionConflict)

	// The failed write left no trace.
	user, ferr := store.FindByID(ctx, "user-1")
	require.NoError(t, ferr)
	assert.Equal(t, entitled.TierFree, user.Tier)
	assert.Equal(t, int64(0), user.Revision)
}

func TestCompareAndSet_UserNotFound(t *testing.T) {
	store := New()
	premium := entitled.TierPremium
	err := store.CompareAndSet(context.Background(), "ghost", 0, entitled.Mutation{Tier: &premium})
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
}

func TestCompareAndSet_CustomerExists(t *testing.T) {
	store := New()
	seedUser(t, store)
	ctx := context.Background()

	first := "cus_1"
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{CustomerID: &first}))

	// A different identity at the right revision is still rejected.
	second := "cus_2"
	err := store.CompareAndSet(ctx, "user-1", 1, entitled.Mutation{CustomerID: &second})
	assert.ErrorIs(t, err, entitled.ErrCustomerExists)

	user, ferr := store.FindByID(ctx, "user-1")
	require.NoError(t, ferr)
	assert.Equal(t, "cus_1", user.CustomerID)

	// Re-linking the same identity is a no-op write, not a conflict.
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 1, entitled.Mutation{CustomerID: &first}))

	byCustomer, err := store.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byCustomer.ID)
}

func TestSeenEvent(t *testing.T) {
	store := New()
	seedUser(t, store)
	ctx := context.Background()

	seen, err := store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	premium := entitled.TierPremium
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{
		Tier:    &premium,
		EventID: "evt_1",
	}))

	seen, err = store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Dedup state is per user.
	seen, err = store.SeenEvent(ctx, "user-2", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeenEvent_WindowExpiry(t *testing.T) {
	current := time.Now()
	store := New(
		WithDedupWindow(time.Hour),
		WithClock(func() time.Time { return current }),
	)
	seedUser(t, store)
	ctx := context.Background()

	premium := entitled.TierPremium
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{
		Tier:    &premium,
		EventID: "evt_1",
	}))

	seen, err := store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Past the retention window the record is pruned and the event would
	// apply again.
	current = current.Add(2 * time.Hour)
	seen, err = store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestClear(t *testing.T) {
	store := New()
	seedUser(t, store)

	store.Clear()

	_, err := store.FindByID(context.Background(), "user-1")
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
}
