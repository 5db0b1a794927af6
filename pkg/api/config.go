package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// EventParser verifies a raw webhook delivery against its signature and
// normalizes it. A (nil, nil) return means the event is acknowledged
// without being applied.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*entitled.Event, error)
}

// Config holds configuration for the subscription API handler.
type Config struct {
	// Parser verifies and normalizes webhook deliveries (required).
	Parser EventParser

	// Reconciler applies normalized events (required).
	Reconciler *entitled.Reconciler

	// Linker ensures billing identities for checkout (required).
	Linker *entitled.Linker

	// Verifier serves the on-demand verification path (required).
	Verifier *entitled.Verifier

	// Client creates checkout and portal sessions (required).
	Client entitled.BillingClient

	// GetUser resolves the authenticated user from the request (required
	// for the non-webhook endpoints). Token verification is the identity
	// collaborator's job; this handler trusts the resolved record.
	GetUser func(*http.Request) (*entitled.User, error)

	// PublicKey is the publishable key returned alongside checkout
	// sessions for the frontend SDK.
	PublicKey string

	// SignatureHeader is the webhook signature header name.
	// Default: "Stripe-Signature".
	SignatureHeader string

	// MaxBodyBytes caps webhook payload size. Default: 256 KiB.
	MaxBodyBytes int64

	// OnError handles internal errors on authenticated endpoints.
	// If nil, a JSON error body with a machine-readable code is written.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; nil means no logging.
	Logger entitled.Logger

	// Metrics is optional; nil means no metrics.
	Metrics entitled.Metrics
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Parser == nil {
		return fmt.Errorf("parser is required")
	}
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.Linker == nil {
		return fmt.Errorf("linker is required")
	}
	if c.Verifier == nil {
		return fmt.Errorf("verifier is required")
	}
	if c.Client == nil {
		return fmt.Errorf("billing client is required")
	}
	if c.GetUser == nil {
		return fmt.Errorf("getUser is required")
	}
	return nil
}

// NewHandler creates a new subscription API handler with the given
// configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = "Stripe-Signature"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = &entitled.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &entitled.NoopMetrics{}
	}
	return &Handler{config: config}, nil
}
