package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v82/webhook"

	"relaypoint/internal/api"
	"relaypoint/internal/types"
)

// maxWebhookBodySize caps billing webhook payloads (64 KB). Provider
// payloads are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Billing webhook event types this system reacts to.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventSubUpdated        = "customer.subscription.updated"
	eventSubDeleted        = "customer.subscription.deleted"
	eventPaymentFailed     = "invoice.payment_failed"
)

// BillingPublisher enqueues verified billing events for the billing worker.
// Satisfied by *queue.Publisher.
type BillingPublisher interface {
	PublishBillingEvent(ctx context.Context, event *types.BillingEvent, reason string) error
}

// SignatureVerifier validates a webhook payload against its signature
// header. Production wiring uses stripe.ValidatePayload.
type SignatureVerifier func(payload []byte, header, secret string) error

// BillingWebhookHandler receives asynchronous billing events. It is not
// behind auth middleware; security comes from verifying the Stripe-Signature
// header against the signing secret. Processing happens off the queue so the
// webhook acknowledges fast and provider retries stay idempotent via the
// event ID.
type BillingWebhookHandler struct {
	publisher BillingPublisher
	verify    SignatureVerifier
	secret    string
	logger    types.Logger
}

// NewBillingWebhookHandler creates a BillingWebhookHandler. A nil verifier
// defaults to stripe-go's payload validation.
func NewBillingWebhookHandler(publisher BillingPublisher, verify SignatureVerifier, secret string, logger types.Logger) *BillingWebhookHandler {
	if verify == nil {
		verify = stripe.ValidatePayload
	}
	return &BillingWebhookHandler{
		publisher: publisher,
		verify:    verify,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Registered on the root router,
// outside the /v1 auth groups.
func (h *BillingWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/billing", h.Handle)
}

// Handle verifies the signature, translates the provider event into a
// domain billing event, and enqueues it.
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.Warn("billing webhook missing signature header")
		api.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated,
			"missing signature header", nil))
		return
	}
	if err := h.verify(payload, sigHeader, h.secret); err != nil {
		h.logger.Warn("billing webhook signature verification failed", "error", err.Error())
		api.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed", err))
		return
	}

	var event billingWireEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"invalid webhook event JSON", err))
		return
	}

	domainEvent, ok := event.toDomain()
	if !ok {
		h.logger.Info("ignoring unhandled billing event type", "event_type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.publisher.PublishBillingEvent(r.Context(), domainEvent, "webhook"); err != nil {
		// Signal failure so the provider redelivers; the event ID dedups
		// the retry downstream.
		h.logger.Error("failed to enqueue billing event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err.Error(),
		)
		api.Error(w, r, err)
		return
	}

	h.logger.Info("billing event accepted", "event_id", event.ID, "event_type", event.Type)
	w.WriteHeader(http.StatusOK)
}

// ---------------------------------------------------------------------------
// Provider event parsing
// ---------------------------------------------------------------------------

// billingWireEvent is a minimal representation of the provider webhook
// event, decoupled from the full stripe.Event type for straightforward
// testing.
type billingWireEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    billingWireData `json:"data"`
}

type billingWireData struct {
	Object json.RawMessage `json:"object"`
}

// billingWireObject covers the fields shared across the event objects this
// system reads: checkout sessions, subscriptions, and invoices.
type billingWireObject struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Items             billingWireItems  `json:"items"`
	Lines             billingWireItems  `json:"lines"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
}

type billingWireItems struct {
	Data []billingWireItem `json:"data"`
}

type billingWireItem struct {
	Price billingWirePrice `json:"price"`
}

type billingWirePrice struct {
	ID string `json:"id"`
}

// toDomain maps the wire event to a domain billing event. Returns false for
// event types this system does not react to.
func (e *billingWireEvent) toDomain() (*types.BillingEvent, bool) {
	var eventType string
	switch e.Type {
	case eventCheckoutCompleted:
		eventType = types.BillingInitialPurchase
	case eventSubUpdated:
		eventType = types.BillingProductChange
	case eventSubDeleted:
		eventType = types.BillingExpiration
	case eventPaymentFailed:
		eventType = types.BillingIssue
	default:
		return nil, false
	}

	var obj billingWireObject
	_ = json.Unmarshal(e.Data.Object, &obj)

	appUserID := obj.ClientReferenceID
	if appUserID == "" {
		appUserID = obj.Metadata["app_user_id"]
	}

	productID := obj.Metadata["product_id"]
	if productID == "" {
		productID = firstPriceID(obj.Items)
	}
	if productID == "" {
		productID = firstPriceID(obj.Lines)
	}

	event := &types.BillingEvent{
		ID:        e.ID,
		Type:      eventType,
		AppUserID: appUserID,
		ProductID: productID,
		CreatedAt: time.Unix(e.Created, 0).UTC(),
	}
	if eventType == types.BillingProductChange {
		event.NewProductID = productID
	}
	if obj.CurrentPeriodEnd > 0 {
		event.ExpirationAt = time.Unix(obj.CurrentPeriodEnd, 0).UTC()
	}
	return event, true
}

func firstPriceID(items billingWireItems) string {
	if len(items.Data) > 0 {
		return items.Data[0].Price.ID
	}
	return ""
}
