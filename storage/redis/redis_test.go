package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379.
func setupTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(setupTestRedis(t), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), &entitled.User{
		ID:    "user-1",
		Email: "alice@example.com",
	}))
	return store
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	store, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	require.NoError(t, err)
	assert.Equal(t, "entitled:", store.config.KeyPrefix)
	assert.Equal(t, 48*time.Hour, store.config.DedupWindow)
}

func TestCreateAndFind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, entitled.TierFree, user.Tier)
	assert.Equal(t, int64(0), user.Revision)

	byEmail, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)

	_, err = store.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)

	err = store.Create(ctx, &entitled.User{ID: "user-1", Email: "other@example.com"})
	assert.Error(t, err)
}

func TestCompareAndSet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	premium := entitled.TierPremium
	subID := "sub_1"
	customerID := "cus_1"
	occurredAt := time.Now()
	err := store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{
		Tier:           &premium,
		CustomerID:     &customerID,
		SubscriptionID: &subID,
		OccurredAt:     &occurredAt,
		EventID:        "evt_1",
	})
	require.NoError(t, err)

	user, err := store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitled.TierPremium, user.Tier)
	assert.Equal(t, "cus_1", user.CustomerID)
	assert.Equal(t, "sub_1", user.SubscriptionID)
	assert.Equal(t, int64(1), user.Revision)
	assert.True(t, user.EntitlementUpdatedAt.Equal(occurredAt))

	// Customer index was written atomically with the link.
	byCustomer, err := store.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byCustomer.ID)

	// Dedup record was committed with the mutation.
	seen, err := store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCompareAndSet_RevisionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	premium := entitled.TierPremium
	err := store.CompareAndSet(ctx, "user-1", 7, entitled.Mutation{Tier: &premium, EventID: "evt_1"})
	assert.ErrorIs(t, err, entitled.ErrRevisionConflict)

	// The rejected write committed nothing, including the dedup record.
	user, ferr := store.FindByID(ctx, "user-1")
	require.NoError(t, ferr)
	assert.Equal(t, entitled.TierFree, user.Tier)
	seen, serr := store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, serr)
	assert.False(t, seen)
}

func TestCompareAndSet_CustomerExists(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := "cus_1"
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{CustomerID: &first}))

	second := "cus_2"
	err := store.CompareAndSet(ctx, "user-1", 1, entitled.Mutation{CustomerID: &second})
	assert.ErrorIs(t, err, entitled.ErrCustomerExists)

	user, ferr := store.FindByID(ctx, "user-1")
	require.NoError(t, ferr)
	assert.Equal(t, "cus_1", user.CustomerID)
}

func TestCompareAndSet_UserNotFound(t *testing.T) {
	store := setupTestStore(t)
	premium := entitled.TierPremium
	err := store.CompareAndSet(context.Background(), "ghost", 0, entitled.Mutation{Tier: &premium})
	assert.ErrorIs(t, err, entitled.ErrUserNotFound)
}

func TestSeenEvent_TTL(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client, Config{DedupWindow: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &entitled.User{ID: "user-1", Email: "alice@example.com"}))
	premium := entitled.TierPremium
	require.NoError(t, store.CompareAndSet(ctx, "user-1", 0, entitled.Mutation{
		Tier:    &premium,
		EventID: "evt_1",
	}))

	seen, err := store.SeenEvent(ctx, "user-1", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, store.eventKey("user-1", "evt_1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)
}
