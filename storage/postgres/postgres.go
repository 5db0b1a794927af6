// Package postgres provides a PostgreSQL implementation of the
// entitled.UserStore interface. Compare-and-set runs inside a SQL
// transaction with SELECT FOR UPDATE so the mutation, the revision bump,
// and the processed-event record commit atomically.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// Store implements entitled.UserStore using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine.
	stopCleanup func()
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// DedupWindow is the processed-event retention window.
	DedupWindow time.Duration

	// CleanupEnabled starts a goroutine that prunes expired event records.
	CleanupEnabled  bool
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		DedupWindow:     48 * time.Hour,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL user store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = 48 * time.Hour
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}
	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS entitled_users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			customer_id TEXT UNIQUE,
			subscription_id TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			revision BIGINT NOT NULL DEFAULT 0,
			entitlement_updated_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS entitled_processed_events (
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, event_id)
		);
		CREATE INDEX IF NOT EXISTS entitled_processed_events_applied_at_idx
			ON entitled_processed_events (applied_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the pool and stops the cleanup goroutine.
func (s *Store) Close() {
	s.stopCleanup()
	s.pool.Close()
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entitled_users (id, email, customer_id, subscription_id, tier)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, user.ID, user.Email, user.CustomerID, user.SubscriptionID, string(tier))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByID implements entitled.UserStore.
func (s *Store) FindByID(ctx context.Context, id string) (*entitled.User, error) {
	return s.findBy(ctx, "id = $1", id)
}

// FindByEmail implements entitled.UserStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*entitled.User, error) {
	return s.findBy(ctx, "email = $1", email)
}

// FindByCustomerID implements entitled.UserStore.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitled.User, error) {
	return s.findBy(ctx, "customer_id = $1", customerID)
}

func (s *Store) findBy(ctx context.Context, where string, arg any) (*entitled.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, COALESCE(customer_id, ''), subscription_id, tier, revision,
		       COALESCE(entitlement_updated_at, 'epoch'::timestamptz)
		FROM entitled_users WHERE `+where, arg)

	var user entitled.User
	var tier string
	var updatedAt time.Time
	err := row.Scan(&user.ID, &user.Email, &user.CustomerID, &user.SubscriptionID,
		&tier, &user.Revision, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entitled.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.Tier = entitled.Tier(tier)
	if !updatedAt.Equal(time.Unix(0, 0).UTC()) {
		user.EntitlementUpdatedAt = updatedAt
	}
	return &user, nil
}

// CompareAndSet implements entitled.UserStore.
func (s *Store) CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut entitled.Mutation) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var revision int64
	var customerID string
	err = tx.QueryRow(ctx, `
		SELECT revision, COALESCE(customer_id, '')
		FROM entitled_users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&revision, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entitled.ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}
	if revision != expectedRevision {
		return entitled.ErrRevisionConflict
	}
	if mut.CustomerID != nil && customerID != "" && customerID != *mut.CustomerID {
		return entitled.ErrCustomerExists
	}

	_, err = tx.Exec(ctx, `
		UPDATE entitled_users SET
			tier = COALESCE($2, tier),
			customer_id = COALESCE(customer_id, NULLIF($3, '')),
			subscription_id = COALESCE($4, subscription_id),
			entitlement_updated_at = COALESCE($5, entitlement_updated_at),
			revision = revision + 1
		WHERE id = $1
	`, userID, tierArg(mut.Tier), customerArg(mut.CustomerID), mut.SubscriptionID, mut.OccurredAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	if mut.EventID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO entitled_processed_events (user_id, event_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, userID, mut.EventID)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SeenEvent implements entitled.UserStore.
func (s *Store) SeenEvent(ctx context.Context, userID, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entitled_processed_events
			WHERE user_id = $1 AND event_id = $2 AND applied_at > now() - make_interval(secs => $3)
		)
	`, userID, eventID, s.config.DedupWindow.Seconds()).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return seen, nil
}

func tierArg(tier *entitled.Tier) *string {
	if tier == nil {
		return nil
	}
	v := string(*tier)
	return &v
}

func customerArg(customerID *string) string {
	if customerID == nil {
		return ""
	}
	return *customerID
}

// startCleanup prunes processed-event records past the dedup window.
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_, _ = s.pool.Exec(cleanupCtx, `
				DELETE FROM entitled_processed_events
				WHERE applied_at < now() - make_interval(secs => $1)
			`, s.config.DedupWindow.Seconds())
			cancel()
		}
	}
}
