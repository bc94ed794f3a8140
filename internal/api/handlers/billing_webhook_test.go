package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

func acceptAllSignatures(_ []byte, _, _ string) error { return nil }

func postWebhook(h *BillingWebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestBillingWebhook_PaymentFailedPublished(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	body := `{
		"id": "evt_1",
		"type": "invoice.payment_failed",
		"created": 1714557600,
		"data": {"object": {
			"metadata": {"app_user_id": "user-7", "product_id": "premium_monthly"},
			"lines": {"data": [{"price": {"id": "price_premium_m"}}]}
		}}
	}`
	rec := postWebhook(h, body, "t=1,v1=sig")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, types.BillingIssue, event.Type)
	assert.Equal(t, "user-7", event.AppUserID)
	assert.Equal(t, "premium_monthly", event.ProductID)
	assert.Equal(t, time.Unix(1714557600, 0).UTC(), event.CreatedAt)
}

func TestBillingWebhook_CheckoutCompletedMapsFields(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	body := `{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"created": 1714557600,
		"data": {"object": {
			"client_reference_id": "user-9",
			"metadata": {}
		}}
	}`
	rec := postWebhook(h, body, "t=1,v1=sig")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, types.BillingInitialPurchase, publisher.events[0].Type)
	assert.Equal(t, "user-9", publisher.events[0].AppUserID)
}

func TestBillingWebhook_SubscriptionUpdatedCarriesNewProduct(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	body := `{
		"id": "evt_3",
		"type": "customer.subscription.updated",
		"created": 1714557600,
		"data": {"object": {
			"metadata": {"app_user_id": "user-3"},
			"items": {"data": [{"price": {"id": "price_annual"}}]},
			"current_period_end": 1746093600
		}}
	}`
	rec := postWebhook(h, body, "t=1,v1=sig")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, types.BillingProductChange, event.Type)
	assert.Equal(t, "price_annual", event.NewProductID)
	assert.Equal(t, time.Unix(1746093600, 0).UTC(), event.ExpirationAt)
}

func TestBillingWebhook_MissingSignatureHeader(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	rec := postWebhook(h, `{"id":"evt_4","type":"invoice.payment_failed"}`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, publisher.events)
}

func TestBillingWebhook_InvalidSignatureRejected(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	reject := func(_ []byte, _, _ string) error { return errors.New("signature mismatch") }
	h := NewBillingWebhookHandler(publisher, reject, "whsec_test", nopLogger{})

	rec := postWebhook(h, `{"id":"evt_5","type":"invoice.payment_failed"}`, "t=1,v1=bad")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, publisher.events)
}

func TestBillingWebhook_UnhandledTypeAcknowledged(t *testing.T) {
	publisher := &fakeBillingPublisher{}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	rec := postWebhook(h, `{"id":"evt_6","type":"charge.refunded","created":1714557600,"data":{"object":{}}}`, "t=1,v1=sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, publisher.events)
}

func TestBillingWebhook_EnqueueFailureTriggersRedelivery(t *testing.T) {
	publisher := &fakeBillingPublisher{err: types.NewAppError(types.ErrCodeUpstreamUnavailable, "queue down", nil)}
	h := NewBillingWebhookHandler(publisher, acceptAllSignatures, "whsec_test", nopLogger{})

	body := `{"id":"evt_7","type":"customer.subscription.deleted","created":1714557600,"data":{"object":{"metadata":{"app_user_id":"user-1"}}}}`
	rec := postWebhook(h, body, "t=1,v1=sig")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
