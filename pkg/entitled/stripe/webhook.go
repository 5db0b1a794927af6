package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

// ParseEvent verifies a raw webhook delivery and normalizes it.
//
// The cryptographic check runs over the raw body bytes exactly as received;
// the payload is never re-serialized. A (nil, nil) return means the event
// type is not part of the entitlement vocabulary and must be acknowledged
// without applying anything.
func (p *Provider) ParseEvent(payload []byte, signature string) (*entitled.Event, error) {
	event, verified, err := p.verify(payload, signature)
	if err != nil {
		return nil, err
	}

	normalized, err := p.normalize(event)
	if err != nil || normalized == nil {
		return normalized, err
	}
	normalized.Verified = verified
	return normalized, nil
}

// verify validates the signature against the shared secret, or merely
// parses in relaxed mode.
func (p *Provider) verify(payload []byte, signature string) (*stripe.Event, bool, error) {
	if p.skipVerify {
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, false, fmt.Errorf("%w: %v", entitled.ErrInvalidPayload, err)
		}
		p.logger.Warn("webhook accepted without signature verification",
			entitled.Field{Key: "event_id", Value: event.ID},
			entitled.Field{Key: "event_type", Value: string(event.Type)})
		return &event, false, nil
	}

	event, err := stripe.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", entitled.ErrInvalidSignature, err)
	}
	return &event, true, nil
}
