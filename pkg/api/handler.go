package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mihaimyh/entitled/pkg/entitled"
)

const defaultMaxBodyBytes = 256 * 1024

// Handler provides the HTTP endpoints of the subscription engine. It is
// router-agnostic; mount the methods on any mux.
type Handler struct {
	config Config
}

// Webhook handles POST /webhook: raw provider deliveries.
//
// Redelivery of an already-applied event is acknowledged with 200, so the
// endpoint is idempotent from the provider's perspective. Signature and
// parse failures return 400 and never reach the reconciliation core.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBodyStrict(w, r, h.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, errPayloadTooLarge) {
			h.config.Metrics.RecordWebhookError("payload_too_large")
			h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large")
		} else {
			h.config.Metrics.RecordWebhookError("invalid_payload")
			h.writeError(w, http.StatusBadRequest, "invalid_payload", "invalid payload")
		}
		return
	}

	event, err := h.config.Parser.ParseEvent(body, r.Header.Get(h.config.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, entitled.ErrInvalidSignature):
			h.config.Metrics.RecordWebhookError("auth_failed")
			h.writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		case errors.Is(err, entitled.ErrUnresolvedSubject):
			// Surfaced for manual remediation; retrying cannot fix it.
			h.config.Logger.Error("webhook subject unresolvable", entitled.Field{Key: "error", Value: err.Error()})
			h.config.Metrics.RecordWebhookError("unresolved_subject")
			h.writeError(w, http.StatusBadRequest, "unresolved_subject", "event subject cannot be resolved")
		default:
			h.config.Metrics.RecordWebhookError("invalid_payload")
			h.writeError(w, http.StatusBadRequest, "invalid_payload", "invalid payload")
		}
		return
	}

	if event == nil {
		// Unrecognized event type: acknowledged, not applied.
		h.config.Metrics.RecordWebhookEvent("unknown", "ignored")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	result, err := h.config.Reconciler.Apply(r.Context(), event)
	h.config.Metrics.RecordWebhookProcessingDuration(event.Type, time.Since(startTime))
	if err != nil {
		if errors.Is(err, entitled.ErrUserNotFound) {
			// A user that does not exist yet cannot be reconciled by
			// redelivery; acknowledge and leave a trail.
			h.config.Logger.Error("webhook for unknown user",
				entitled.Field{Key: "event_id", Value: event.ID},
				entitled.Field{Key: "event_type", Value: event.Type})
			h.config.Metrics.RecordWebhookError("user_not_found")
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
			return
		}
		h.config.Logger.Error("webhook processing failed",
			entitled.Field{Key: "event_id", Value: event.ID},
			entitled.Field{Key: "error", Value: err.Error()})
		h.config.Metrics.RecordWebhookEvent(event.Type, "error")
		h.config.Metrics.RecordWebhookError("processing_error")
		h.writeError(w, http.StatusInternalServerError, "processing_error", "failed to process webhook")
		return
	}

	h.config.Metrics.RecordWebhookEvent(event.Type, string(result))
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

// CreateSubscription handles POST /create-subscription: ensures a billing
// identity and starts a checkout session.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	customerID, err := h.config.Linker.EnsureCustomer(r.Context(), user)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("ensure customer: %w", err))
		return
	}

	session, err := h.config.Client.CreateCheckoutSession(r.Context(), customerID, user.ID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("create checkout session: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, CreateSubscriptionResponse{
		SessionID: session.ID,
		PublicKey: h.config.PublicKey,
	})
}

// VerifySubscription handles POST /verify-subscription: polls the provider
// and repairs drift through the reconciliation core.
func (h *Handler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	snapshot, err := h.config.Verifier.Verify(r.Context(), user)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("verify subscription: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, VerifySubscriptionResponse{
		HasSubscription:  snapshot.HasSubscription,
		Status:           snapshot.Status,
		Plan:             snapshot.Plan,
		CurrentPeriodEnd: snapshot.CurrentPeriodEnd,
	})
}

// CreatePortalSession handles POST /create-portal-session. Requires an
// existing billing identity.
func (h *Handler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if user.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "no_customer", "user has no billing account")
		return
	}

	url, err := h.config.Client.CreatePortalSession(r.Context(), user.CustomerID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("create portal session: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, PortalSessionResponse{URL: url})
}

// Register mounts all endpoints on a ServeMux under the conventional paths.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.Webhook)
	mux.HandleFunc("/create-subscription", h.CreateSubscription)
	mux.HandleFunc("/verify-subscription", h.VerifySubscription)
	mux.HandleFunc("/create-portal-session", h.CreatePortalSession)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*entitled.User, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	user, err := h.config.GetUser(r)
	if err != nil || user == nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}
	return user, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.config.Logger.Error("request failed",
		entitled.Field{Key: "path", Value: r.URL.Path},
		entitled.Field{Key: "error", Value: err.Error()})
	switch {
	case errors.Is(err, entitled.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "user_not_found", "user not found")
	case errors.Is(err, entitled.ErrReconciliationConflict):
		h.writeError(w, http.StatusServiceUnavailable, "reconciliation_conflict", "concurrent update, retry")
	case errors.Is(err, entitled.ErrProviderUnavailable):
		h.writeError(w, http.StatusBadGateway, "provider_unavailable", "billing provider unavailable")
	case errors.Is(err, entitled.ErrNoCustomer):
		h.writeError(w, http.StatusBadRequest, "no_customer", "user has no billing account")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, ErrorResponse{Code: errCode, Message: message})
}

var errPayloadTooLarge = errors.New("payload too large")

// readBodyStrict reads the raw body with a size cap. The bytes are returned
// untouched: the signature check must run over exactly what was received.
func readBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", errPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
