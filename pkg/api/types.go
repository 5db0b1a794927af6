package api

import "time"

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received bool `json:"received"`
}

// CreateSubscriptionResponse carries the checkout session for the frontend.
type CreateSubscriptionResponse struct {
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
}

// VerifySubscriptionResponse reports the reconciled subscription state.
type VerifySubscriptionResponse struct {
	HasSubscription  bool       `json:"hasSubscription"`
	Status           string     `json:"status"`
	Plan             string     `json:"plan,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// PortalSessionResponse carries the billing portal URL.
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the machine-readable error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
