// Package memory provides an in-memory implementation of the
// entitled.UserStore interface. This implementation is primarily intended
// for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

const defaultDedupWindow = 48 * time.Hour

// Store implements entitled.UserStore using in-memory maps.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*entitled.User
	byEmail     map[string]string
	byCustomer  map[string]string
	events      map[string]map[string]time.Time
	dedupWindow time.Duration
	now         func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithDedupWindow overrides the processed-event retention window.
func WithDedupWindow(window time.Duration) Option {
	return func(s *Store) { s.dedupWindow = window }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new in-memory user store.
func New(opts ...Option) *Store {
	s := &Store{
		users:       make(map[string]*entitled.User),
		byEmail:     make(map[string]string),
		byCustomer:  make(map[string]string),
		events:      make(map[string]map[string]time.Time),
		dedupWindow: defaultDedupWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new user record at revision 0. Not part of the
// UserStore contract; the engine never creates users, signup does.
func (s *Store) Create(ctx context.Context, user *entitled.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return fmt.Errorf("email %s already taken", user.Email)
	}
	userCopy := *user
	if userCopy.Tier == "" {
		userCopy.Tier = entitled.TierFree
	}
	s.users[user.ID] = &userCopy
	s.byEmail[user.Email] = user.ID
	if user.CustomerID != "" {
		s.byCustomer[user.CustomerID] = user.ID
	}
	return nil
}

// FindByID implements entitled.UserStore.
func (s *Store) FindByID(ctx context.Context, id string) (*entitled.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// FindByEmail implements entitled.UserStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*entitled.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, entitled.ErrUserNotFound
	}
	return s.get(id)
}

// FindByCustomerID implements entitled.UserStore.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitled.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCustomer[customerID]
	if !ok {
		return nil, entitled.ErrUserNotFound
	}
	return s.get(id)
}

// CompareAndSet implements entitled.UserStore. The mutation, the revision
// bump, and the processed-event record commit together or not at all.
func (s *Store) CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut entitled.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return entitled.ErrUserNotFound
	}
	if user.Revision != expectedRevision {
		return entitled.ErrRevisionConflict
	}
	if mut.CustomerID != nil && user.CustomerID != "" && user.CustomerID != *mut.CustomerID {
		return entitled.ErrCustomerExists
	}

	if mut.Tier != nil {
		user.Tier = *mut.Tier
	}
	if mut.CustomerID != nil && user.CustomerID == "" {
		user.CustomerID = *mut.CustomerID
		s.byCustomer[*mut.CustomerID] = user.ID
	}
	if mut.SubscriptionID != nil {
		user.SubscriptionID = *mut.SubscriptionID
	}
	if mut.OccurredAt != nil {
		user.EntitlementUpdatedAt = *mut.OccurredAt
	}
	user.Revision++

	if mut.EventID != "" {
		log, ok := s.events[userID]
		if !ok {
			log = make(map[string]time.Time)
			s.events[userID] = log
		}
		log[mut.EventID] = s.now()
	}
	return nil
}

// SeenEvent implements entitled.UserStore. Entries older than the dedup
// window are pruned lazily.
func (s *Store) SeenEvent(ctx context.Context, userID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.events[userID]
	if !ok {
		return false, nil
	}
	cutoff := s.now().Add(-s.dedupWindow)
	for id, appliedAt := range log {
		if appliedAt.Before(cutoff) {
			delete(log, id)
		}
	}
	_, seen := log[eventID]
	return seen, nil
}

// get returns a copy to prevent external mutations. Caller holds the lock.
func (s *Store) get(id string) (*entitled.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, entitled.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*entitled.User)
	s.byEmail = make(map[string]string)
	s.byCustomer = make(map[string]string)
	s.events = make(map[string]map[string]time.Time)
}
