// Package redis provides a Redis implementation of the entitled.UserStore
// interface. Compare-and-set runs as a Lua script so the mutation, the
// revision bump, and the processed-event record are applied atomically; the
// processed-event keys expire with the dedup window.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// Store implements entitled.UserStore using Redis.
type Store struct {
	client redis.UniversalClient
	config Config
	cas    *redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitled:").
	KeyPrefix string

	// DedupWindow is the TTL on processed-event keys (default: 48h).
	DedupWindow time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "entitled:",
		DedupWindow: 48 * time.Hour,
	}
}

// casScript return codes.
const (
	casOK               = 0
	casNotFound         = 1
	casRevisionConflict = 2
	casCustomerExists   = 3
)

var casScript = redis.NewScript(`
	local userKey = KEYS[1]
	if redis.call('EXISTS', userKey) == 0 then
		return 1
	end
	local rev = tonumber(redis.call('HGET', userKey, 'revision'))
	if rev ~= tonumber(ARGV[1]) then
		return 2
	end
	local customerID = ARGV[3]
	if customerID ~= '' then
		local current = redis.call('HGET', userKey, 'customer_id')
		if current and current ~= '' and current ~= customerID then
			return 3
		end
		if not current or current == '' then
			redis.call('HSET', userKey, 'customer_id', customerID)
			redis.call('SET', KEYS[2], ARGV[7])
		end
	end
	if ARGV[2] ~= '' then
		redis.call('HSET', userKey, 'tier', ARGV[2])
	end
	if ARGV[4] == '1' then
		redis.call('HSET', userKey, 'subscription_id', ARGV[5])
	end
	if ARGV[6] ~= '' then
		redis.call('HSET', userKey, 'updated_at', ARGV[6])
	end
	redis.call('HINCRBY', userKey, 'revision', 1)
	if ARGV[8] ~= '' then
		redis.call('SET', KEYS[3], '1', 'EX', ARGV[9])
	end
	return 0
`)

// New creates a new Redis user store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitled:"
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = 48 * time.Hour
	}
	return &Store{
		client: client,
		config: config,
		cas:    casScript,
	}, nil
}

func (s *Store) userKey(id string) string {
	return s.config.KeyPrefix + "user:" + id
}

func (s *Store) emailKey(email string) string {
	return s.config.KeyPrefix + "email:" + email
}

func (s *Store) customerKey(customerID string) string {
	return s.config.KeyPrefix + "customer:" + customerID
}

func (s *Store) eventKey(userID, eventID string) string {
	return s.config.KeyPrefix + "event:" + userID + ":" + eventID
}

// Create inserts a new user record at revision 0.
func (s *Store) Create(ctx context.Context, user *entitled.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}
	tier := user.Tier
	if tier == "" {
		tier = entitled.TierFree
	}

	ok, err := s.client.HSetNX(ctx, s.userKey(user.ID), "email", user.Email).Result()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	fields := map[string]interface{}{
		"customer_id":     user.CustomerID,
		"subscription_id": user.SubscriptionID,
		"tier":            string(tier),
		"revision":        0,
		"updated_at":      "",
	}
	if err := s.client.HSet(ctx, s.userKey(user.ID), fields).Err(); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if err := s.client.Set(ctx, s.emailKey(user.Email), user.ID, 0).Err(); err != nil {
		return fmt.Errorf("index email: %w", err)
	}
	if user.CustomerID != "" {
		if err := s.client.Set(ctx, s.customerKey(user.CustomerID), user.ID, 0).Err(); err != nil {
			return fmt.Errorf("index customer: %w", err)
		}
	}
	return nil
}

// FindByID implements entitled.UserStore.
func (s *Store) FindByID(ctx context.Context, id string) (*entitled.User, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if len(fields) == 0 {
		return nil, entitled.ErrUserNotFound
	}
	return userFromHash(id, fields)
}

// FindByEmail implements entitled.UserStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*entitled.User, error) {
	return s.findByIndex(ctx, s.emailKey(email))
}

// FindByCustomerID implements entitled.UserStore.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitled.User, error) {
	return s.findByIndex(ctx, s.customerKey(customerID))
}

func (s *Store) findByIndex(ctx context.Context, indexKey string) (*entitled.User, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, entitled.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index lookup: %w", err)
	}
	return s.FindByID(ctx, id)
}

// CompareAndSet implements entitled.UserStore.
func (s *Store) CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut entitled.Mutation) error {
	tier := ""
	if mut.Tier != nil {
		tier = string(*mut.Tier)
	}
	customerID := ""
	if mut.CustomerID != nil {
		customerID = *mut.CustomerID
	}
	hasSub, subID := "0", ""
	if mut.SubscriptionID != nil {
		hasSub, subID = "1", *mut.SubscriptionID
	}
	occurredAt := ""
	if mut.OccurredAt != nil {
		occurredAt = strconv.FormatInt(mut.OccurredAt.UnixNano(), 10)
	}

	keys := []string{
		s.userKey(userID),
		s.customerKey(customerID),
		s.eventKey(userID, mut.EventID),
	}
	argv := []interface{}{
		expectedRevision,
		tier,
		customerID,
		hasSub,
		subID,
		occurredAt,
		userID,
		mut.EventID,
		int(s.config.DedupWindow.Seconds()),
	}

	code, err := s.cas.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("compare-and-set: %w", err)
	}
	switch code {
	case casOK:
		return nil
	case casNotFound:
		return entitled.ErrUserNotFound
	case casRevisionConflict:
		return entitled.ErrRevisionConflict
	case casCustomerExists:
		return entitled.ErrCustomerExists
	default:
		return fmt.Errorf("compare-and-set: unexpected script result %d", code)
	}
}

// SeenEvent implements entitled.UserStore. Expiry is handled by the key TTL.
func (s *Store) SeenEvent(ctx context.Context, userID, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(userID, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

func userFromHash(id string, fields map[string]string) (*entitled.User, error) {
	revision, err := strconv.ParseInt(fields["revision"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt revision for user %s: %w", id, err)
	}
	user := &entitled.User{
		ID:             id,
		Email:          fields["email"],
		CustomerID:     fields["customer_id"],
		SubscriptionID: fields["subscription_id"],
		Tier:           entitled.Tier(fields["tier"]),
		Revision:       revision,
	}
	if raw := fields["updated_at"]; raw != "" {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt updated_at for user %s: %w", id, err)
		}
		user.EntitlementUpdatedAt = time.Unix(0, nanos)
	}
	return user, nil
}
