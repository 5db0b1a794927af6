// Package stripe implements the billing provider surface of the
// reconciliation engine against the Stripe API: outbound customer,
// subscription, checkout, and portal operations plus signature-verified
// webhook parsing.
package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

const (
	providerName       = "stripe"
	defaultCallTimeout = 10 * time.Second
	metadataUserIDKey  = "user_id"
)

// Config holds Stripe provider configuration.
type Config struct {
	// APIKey is the Stripe secret key used for outbound API calls (required).
	APIKey string

	// WebhookSecret verifies inbound webhook signatures. Required unless
	// SkipSignatureVerification is set.
	WebhookSecret string

	// SkipSignatureVerification disables the cryptographic webhook check.
	// Never enable in production; parsed events are marked unverified.
	SkipSignatureVerification bool

	// PremiumPriceID is the Stripe Price for the premium subscription
	// (required for checkout).
	PremiumPriceID string

	// SuccessURL and CancelURL are the checkout redirect targets.
	// SuccessURL may contain the {CHECKOUT_SESSION_ID} placeholder.
	SuccessURL string
	CancelURL  string

	// ReturnURL is where the billing portal sends the user back.
	ReturnURL string

	// CallTimeout bounds each outbound provider call. Default: 10s.
	CallTimeout time.Duration

	// Logger is optional; nil means no logging.
	Logger entitled.Logger

	// Metrics is optional; nil means no metrics.
	Metrics entitled.Metrics
}

// Provider implements entitled.BillingClient against Stripe and parses
// Stripe webhook deliveries into normalized entitlement events.
type Provider struct {
	client        *stripe.Client
	webhookSecret string
	skipVerify    bool
	priceID       string
	successURL    string
	cancelURL     string
	returnURL     string
	callTimeout   time.Duration
	logger        entitled.Logger
	metrics       entitled.Metrics
}

// NewProvider creates a new Stripe provider.
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" && !config.SkipSignatureVerification {
		return nil, fmt.Errorf("webhook secret is required unless signature verification is explicitly skipped")
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaultCallTimeout
	}
	if config.Logger == nil {
		config.Logger = &entitled.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &entitled.NoopMetrics{}
	}

	return &Provider{
		client:        stripe.NewClient(apiKey),
		webhookSecret: secret,
		skipVerify:    config.SkipSignatureVerification,
		priceID:       config.PremiumPriceID,
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
		returnURL:     config.ReturnURL,
		callTimeout:   config.CallTimeout,
		logger:        config.Logger,
		metrics:       config.Metrics,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// CreateCustomer implements entitled.BillingClient. The customer carries the
// user's email and a user_id metadata entry so webhook events remain
// resolvable by either subject.
func (p *Provider) CreateCustomer(ctx context.Context, user *entitled.User) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	startTime := time.Now()

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			metadataUserIDKey: user.ID,
		},
	}

	cust, err := p.client.V1Customers.Create(ctx, params)
	p.metrics.RecordProviderCallDuration("/customers", time.Since(startTime))
	if err != nil {
		p.metrics.RecordProviderCall("/customers", "error")
		return "", fmt.Errorf("%w: create customer: %v", entitled.ErrProviderUnavailable, err)
	}
	p.metrics.RecordProviderCall("/customers", "success")
	return cust.ID, nil
}

// DeleteCustomer implements entitled.BillingClient.
func (p *Provider) DeleteCustomer(ctx context.Context, customerID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	startTime := time.Now()

	_, err := p.client.V1Customers.Delete(ctx, customerID, nil)
	p.metrics.RecordProviderCallDuration("/customers/delete", time.Since(startTime))
	if err != nil {
		p.metrics.RecordProviderCall("/customers/delete", "error")
		return fmt.Errorf("%w: delete customer: %v", entitled.ErrProviderUnavailable, err)
	}
	p.metrics.RecordProviderCall("/customers/delete", "success")
	return nil
}

// ListSubscriptions implements entitled.BillingClient. All statuses are
// returned; selection happens in the Verifier.
func (p *Provider) ListSubscriptions(ctx context.Context, customerID string) ([]entitled.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	startTime := time.Now()

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")

	var subs []entitled.Subscription
	for sub, err := range p.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordProviderCall("/subscriptions/list", "error")
			p.metrics.RecordProviderCallDuration("/subscriptions/list", time.Since(startTime))
			return nil, fmt.Errorf("%w: list subscriptions: %v", entitled.ErrProviderUnavailable, err)
		}
		subs = append(subs, fromStripeSubscription(sub))
	}

	p.metrics.RecordProviderCall("/subscriptions/list", "success")
	p.metrics.RecordProviderCallDuration("/subscriptions/list", time.Since(startTime))
	return subs, nil
}

// CreateCheckoutSession implements entitled.BillingClient. The session is
// tagged with user_id metadata so the completion webhook can resolve the
// subject without a customer lookup.
func (p *Provider) CreateCheckoutSession(ctx context.Context, customerID, userID string) (*entitled.CheckoutSession, error) {
	if p.priceID == "" {
		return nil, fmt.Errorf("premium price id not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	startTime := time.Now()

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(p.successURL),
		CancelURL:           stripe.String(p.cancelURL),
		Customer:            stripe.String(customerID),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Metadata = map[string]string{metadataUserIDKey: userID}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserIDKey, userID)

	session, err := p.client.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordProviderCallDuration("/checkout/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordProviderCall("/checkout/sessions", "error")
		return nil, fmt.Errorf("%w: create checkout session: %v", entitled.ErrProviderUnavailable, err)
	}
	p.metrics.RecordProviderCall("/checkout/sessions", "success")

	return &entitled.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession implements entitled.BillingClient.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	startTime := time.Now()

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.returnURL),
	}

	session, err := p.client.V1BillingPortalSessions.Create(ctx, params)
	p.metrics.RecordProviderCallDuration("/billing_portal/sessions", time.Since(startTime))
	if err != nil {
		p.metrics.RecordProviderCall("/billing_portal/sessions", "error")
		return "", fmt.Errorf("%w: create portal session: %v", entitled.ErrProviderUnavailable, err)
	}
	p.metrics.RecordProviderCall("/billing_portal/sessions", "success")
	return session.URL, nil
}

// fromStripeSubscription maps the SDK subscription to the engine's view.
// Period end lives on subscription items in the v83 API shape.
func fromStripeSubscription(sub *stripe.Subscription) entitled.Subscription {
	out := entitled.Subscription{
		ID:      sub.ID,
		Status:  string(sub.Status),
		Created: time.Unix(sub.Created, 0),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		}
	}
	return out
}
