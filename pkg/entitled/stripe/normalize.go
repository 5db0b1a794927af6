package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// normalize maps a Stripe event to the entitlement-change vocabulary.
//
// checkout.session.completed and invoice payments grant premium,
// customer.subscription.deleted revokes it. Unrecognized types return
// (nil, nil): provider vocabularies evolve and unknown types must not
// break delivery. An event without any resolvable subject surfaces
// ErrUnresolvedSubject, never a silent drop.
func (p *Provider) normalize(event *stripe.Event) (*entitled.Event, error) {
	occurredAt := time.Unix(event.Created, 0)

	switch event.Type {
	case "checkout.session.completed":
		return normalizeCheckoutCompleted(event, occurredAt)
	case "invoice.payment_succeeded", "invoice.paid":
		return normalizeInvoicePaid(event, occurredAt)
	case "customer.subscription.deleted":
		return normalizeSubscriptionDeleted(event, occurredAt)
	case "invoice.payment_failed":
		// The subscription stays active until actually canceled.
		p.logger.Warn("invoice payment failed",
			entitled.Field{Key: "event_id", Value: event.ID})
		return nil, nil
	default:
		p.logger.Debug("ignoring unrecognized event type",
			entitled.Field{Key: "event_type", Value: string(event.Type)})
		return nil, nil
	}
}

func normalizeCheckoutCompleted(event *stripe.Event, occurredAt time.Time) (*entitled.Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", entitled.ErrInvalidPayload, err)
	}

	normalized := &entitled.Event{
		ID:         event.ID,
		Type:       string(event.Type),
		Tier:       entitled.TierPremium,
		OccurredAt: occurredAt,
	}
	if session.Metadata != nil {
		normalized.UserID = session.Metadata[metadataUserIDKey]
	}
	if session.Customer != nil {
		normalized.CustomerID = session.Customer.ID
	}
	normalized.Email = session.CustomerEmail
	if normalized.Email == "" && session.CustomerDetails != nil {
		normalized.Email = session.CustomerDetails.Email
	}
	if session.Subscription != nil {
		normalized.SubscriptionID = session.Subscription.ID
	}

	return checkSubject(normalized)
}

func normalizeInvoicePaid(event *stripe.Event, occurredAt time.Time) (*entitled.Event, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", entitled.ErrInvalidPayload, err)
	}

	normalized := &entitled.Event{
		ID:             event.ID,
		Type:           string(event.Type),
		Tier:           entitled.TierPremium,
		OccurredAt:     occurredAt,
		SubscriptionID: invoiceSubscriptionID(event.Data.Raw),
	}
	if invoice.Customer != nil {
		normalized.CustomerID = invoice.Customer.ID
	}
	normalized.Email = invoice.CustomerEmail

	return checkSubject(normalized)
}

func normalizeSubscriptionDeleted(event *stripe.Event, occurredAt time.Time) (*entitled.Event, error) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", entitled.ErrInvalidPayload, err)
	}

	normalized := &entitled.Event{
		ID:         event.ID,
		Type:       string(event.Type),
		Tier:       entitled.TierFree,
		OccurredAt: occurredAt,
	}
	if subscription.Metadata != nil {
		normalized.UserID = subscription.Metadata[metadataUserIDKey]
	}
	if subscription.Customer != nil {
		normalized.CustomerID = subscription.Customer.ID
	}

	return checkSubject(normalized)
}

// invoiceSubscriptionID digs the subscription reference out of the raw
// invoice JSON. Depending on API version it arrives as an id string or an
// expanded object.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

func checkSubject(event *entitled.Event) (*entitled.Event, error) {
	if event.UserID == "" && event.CustomerID == "" && event.Email == "" {
		return nil, fmt.Errorf("%w: event %s (%s)", entitled.ErrUnresolvedSubject, event.ID, event.Type)
	}
	return event, nil
}
