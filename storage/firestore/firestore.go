// Package firestore provides a Firestore implementation of the
// entitled.UserStore interface. Compare-and-set runs inside
// RunTransaction, which gives the revision check and the processed-event
// record the same all-or-nothing commit as the SQL adapters.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// Store implements entitled.UserStore using Google Cloud Firestore.
type Store struct {
	client           *firestore.Client
	usersCollection  string
	eventsCollection string
	dedupWindow      time.Duration
}

// Config holds Firestore store configuration.
type Config struct {
	// UsersCollection is the collection for user records.
	// Default: "entitled_users".
	UsersCollection string

	// EventsCollection is the collection for processed-event records.
	// Default: "entitled_processed_events".
	EventsCollection string

	// DedupWindow is the processed-event retention window (default: 48h).
	// Pair with a Firestore TTL policy on the applied_at field to prune
	// expired records server-side.
	DedupWindow time.Duration
}

// userDoc is the stored shape of a user record.
type userDoc struct {
	Email                string    `firestore:"email"`
	CustomerID           string    `firestore:"customer_id"`
	SubscriptionID       string    `firestore:"subscription_id"`
	Tier                 string    `firestore:"tier"`
	Revision             int64     `firestore:"revision"`
	EntitlementUpdatedAt time.Time `firestore:"entitlement_updated_at"`
}

// eventDoc records one applied event id.
type eventDoc struct {
	UserID    string    `firestore:"user_id"`
	EventID   string    `firestore:"event_id"`
	AppliedAt time.Time `firestore:"applied_at"`
}

// New creates a new Firestore user store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.UsersCollection == "" {
		config.UsersCollection = "entitled_users"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "entitled_processed_events"
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = 48 * time.Hour
	}
	return &Store{
		client:           client,
		usersCollection:  config.UsersCollection,
		eventsCollection: config.EventsCollection,
		dedupWindow:      config.DedupWindow,
	}, nil
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
	_, err := s.client.Collection(s.usersCollection).Doc(user.ID).Create(ctx, userDoc{
		Email:          user.Email,
		CustomerID:     user.CustomerID,
		SubscriptionID: user.SubscriptionID,
		Tier:           string(tier),
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByID implements entitled.UserStore.
func (s *Store) FindByID(ctx context.Context, id string) (*entitled.User, error) {
	snap, err := s.client.Collection(s.usersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitled.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return fromSnapshot(snap)
}

// FindByEmail implements entitled.UserStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*entitled.User, error) {
	return s.findWhere(ctx, "email", email)
}

// FindByCustomerID implements entitled.UserStore.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitled.User, error) {
	return s.findWhere(ctx, "customer_id", customerID)
}

func (s *Store) findWhere(ctx context.Context, field, value string) (*entitled.User, error) {
	docs, err := s.client.Collection(s.usersCollection).
		Where(field, "==", value).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", field, err)
	}
	if len(docs) == 0 {
		return nil, entitled.ErrUserNotFound
	}
	return fromSnapshot(docs[0])
}

// CompareAndSet implements entitled.UserStore.
func (s *Store) CompareAndSet(ctx context.Context, userID string, expectedRevision int64, mut entitled.Mutation) error {
	userRef := s.client.Collection(s.usersCollection).Doc(userID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(userRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitled.ErrUserNotFound
			}
			return err
		}
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		if doc.Revision != expectedRevision {
			return entitled.ErrRevisionConflict
		}
		if mut.CustomerID != nil && doc.CustomerID != "" && doc.CustomerID != *mut.CustomerID {
			return entitled.ErrCustomerExists
		}

		if mut.Tier != nil {
			doc.Tier = string(*mut.Tier)
		}
		if mut.CustomerID != nil && doc.CustomerID == "" {
			doc.CustomerID = *mut.CustomerID
		}
		if mut.SubscriptionID != nil {
			doc.SubscriptionID = *mut.SubscriptionID
		}
		if mut.OccurredAt != nil {
			doc.EntitlementUpdatedAt = *mut.OccurredAt
		}
		doc.Revision++

		if err := tx.Set(userRef, doc); err != nil {
			return err
		}
		if mut.EventID != "" {
			eventRef := s.client.Collection(s.eventsCollection).Doc(userID + ":" + mut.EventID)
			if err := tx.Set(eventRef, eventDoc{
				UserID:    userID,
				EventID:   mut.EventID,
				AppliedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// SeenEvent implements entitled.UserStore.
func (s *Store) SeenEvent(ctx context.Context, userID, eventID string) (bool, error) {
	snap, err := s.client.Collection(s.eventsCollection).Doc(userID + ":" + eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	var doc eventDoc
	if err := snap.DataTo(&doc); err != nil {
		return false, fmt.Errorf("decode event record: %w", err)
	}
	if doc.AppliedAt.Before(time.Now().Add(-s.dedupWindow)) {
		return false, nil
	}
	return true, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*entitled.User, error) {
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &entitled.User{
		ID:                   snap.Ref.ID,
		Email:                doc.Email,
		CustomerID:           doc.CustomerID,
		SubscriptionID:       doc.SubscriptionID,
		Tier:                 entitled.Tier(doc.Tier),
		Revision:             doc.Revision,
		EntitlementUpdatedAt: doc.EntitlementUpdatedAt,
	}, nil
}
