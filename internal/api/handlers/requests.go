// Package handlers contains the HTTP handler implementations for the
// RelayPoint callable surface: notification intake, admin broadcasts, the
// device-logout action, auth helpers, the public waitlist, and the billing
// webhook.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"relaypoint/internal/api"
	"relaypoint/internal/types"
)

// validate is the shared request validator for this package.
var validate = validator.New()

// RequestCreator persists pending notification requests. Satisfied by
// *store.RequestRepository.
type RequestCreator interface {
	Create(ctx context.Context, req *types.NotificationRequest) error
}

// RequestPublisher hands a persisted request to its channel worker queue.
// Satisfied by *queue.Publisher.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *types.NotificationRequest, reason string) error
}

// CreateRequestBody is the body for POST /v1/requests. It mirrors the
// persisted request shape; status and timestamps are server-assigned.
type CreateRequestBody struct {
	Kind      string            `json:"kind" validate:"required"`
	Channel   string            `json:"channel" validate:"required,oneof=email push"`
	To        string            `json:"to,omitempty" validate:"omitempty,email"`
	Target    *targetBody       `json:"target,omitempty"`
	Lang      string            `json:"lang,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	EventID   string            `json:"event_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Titles    map[string]string `json:"titles,omitempty"`
	Bodies    map[string]string `json:"bodies,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	BodyHTML  string            `json:"body_html,omitempty"`
	CreatedBy string            `json:"created_by,omitempty"`
}

type targetBody struct {
	Audience  string   `json:"audience" validate:"required"`
	Languages []string `json:"languages,omitempty"`
	Tiers     []string `json:"tiers,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
}

// CreateRequestResponse acknowledges an accepted request.
type CreateRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// RequestsHandler is the service-facing intake for notification requests:
// the Go rendition of "write a document to the pending collection". It
// persists the pending record and publishes it to the channel worker queue.
type RequestsHandler struct {
	requests  RequestCreator
	publisher RequestPublisher
	logger    types.Logger
}

// NewRequestsHandler creates a RequestsHandler.
func NewRequestsHandler(requests RequestCreator, publisher RequestPublisher, logger types.Logger) *RequestsHandler {
	return &RequestsHandler{
		requests:  requests,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterRoutes mounts the intake endpoint. Mounted in the admin group:
// only the backend service or admins create requests directly.
func (h *RequestsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/requests", h.Create)
}

// Create validates, persists, and enqueues one notification request.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	req, err := body.toRequest()
	if err != nil {
		api.Error(w, r, err)
		return
	}

	if err := h.requests.Create(r.Context(), req); err != nil {
		api.Error(w, r, err)
		return
	}

	if err := h.publisher.PublishRequest(r.Context(), req, "direct_intake"); err != nil {
		// The pending record exists; the queue send failed. Surface the
		// error so the caller retries, which is dedup-safe.
		api.Error(w, r, err)
		return
	}

	api.JSON(w, r, http.StatusAccepted, api.APIResponse{Data: CreateRequestResponse{
		RequestID: req.ID,
		Status:    string(types.StatusPending),
	}})
}

// toRequest maps the body onto the domain request, enforcing per-channel
// shape rules at ingress.
func (b *CreateRequestBody) toRequest() (*types.NotificationRequest, error) {
	kind := types.NotificationKind(b.Kind)
	channel := types.Channel(b.Channel)

	if channel == types.ChannelEmail && !types.MailKinds[kind] {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidKind,
			"kind not deliverable by mail: "+b.Kind, nil)
	}
	if channel == types.ChannelEmail && b.To == "" && kind != types.KindWaitlistAnnouncement {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"mail request requires a recipient address", nil)
	}
	if channel == types.ChannelPush && b.Target == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"push request requires a target audience", nil)
	}

	req := &types.NotificationRequest{
		Kind:         kind,
		Channel:      channel,
		Recipient:    types.RecipientSpec{To: b.To},
		LanguageHint: b.Lang,
		UserID:       b.UserID,
		EventID:      b.EventID,
		Data:         b.Data,
		Titles:       b.Titles,
		Bodies:       b.Bodies,
		Subject:      b.Subject,
		BodyHTML:     b.BodyHTML,
		CreatedBy:    b.CreatedBy,
	}
	if b.Target != nil {
		req.Recipient.Target = &types.AudienceTarget{
			Audience:  types.Audience(b.Target.Audience),
			Languages: b.Target.Languages,
			Tiers:     b.Target.Tiers,
			Platforms: b.Target.Platforms,
			UserID:    b.Target.UserID,
		}
	}
	return req, nil
}
