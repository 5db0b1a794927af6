package entitled

import "errors"

var (
	// ErrInvalidSignature is returned when webhook signature validation fails.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when a webhook payload cannot be parsed.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrUnresolvedSubject is returned when an event carries no subject
	// field (no user id, no customer id, no email).
	ErrUnresolvedSubject = errors.New("event subject cannot be resolved")

	// ErrUserNotFound is returned when no user matches the event subject.
	// Not retried by this engine; the provider's redelivery is the retry path.
	ErrUserNotFound = errors.New("user not found")

	// ErrRevisionConflict is returned by UserStore.CompareAndSet when the
	// stored revision no longer matches the expected one.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrCustomerExists is returned by UserStore.CompareAndSet when a
	// mutation tries to set a billing identity on a record that already
	// has a different one.
	ErrCustomerExists = errors.New("billing identity already set")

	// ErrReconciliationConflict is returned when the compare-and-set retry
	// budget is exhausted. Transient; safe for the caller to retry.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	// ErrProviderUnavailable wraps transient provider transport failures,
	// distinct from business-logic rejections.
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	// ErrNoCustomer is returned when an operation requires an existing
	// billing identity and the user has none.
	ErrNoCustomer = errors.New("user has no billing identity")
)
