package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relaypoint/internal/api"
	"relaypoint/internal/types"
)

// AdminAuditLogger records privileged actions. Satisfied by
// *store.AuditRepository.
type AdminAuditLogger interface {
	LogAdminAction(ctx context.Context, actorUID, action, target, outcome string) error
}

// BroadcastPushBody is the body for POST /v1/admin/broadcast.
type BroadcastPushBody struct {
	Target targetBody        `json:"target" validate:"required"`
	Titles map[string]string `json:"titles" validate:"required,min=1"`
	Bodies map[string]string `json:"bodies" validate:"required,min=1"`
	Data   map[string]string `json:"data,omitempty"`
}

// AnnouncementBody is the body for POST /v1/admin/announcement. Test mode
// short-circuits delivery to the single test recipient.
type AnnouncementBody struct {
	Subject       string `json:"subject" validate:"required"`
	BodyHTML      string `json:"body_html" validate:"required"`
	Test          bool   `json:"test"`
	TestRecipient string `json:"test_recipient,omitempty" validate:"omitempty,email"`
}

// BroadcastHandler serves admin-initiated broadcasts: multi-channel push and
// waitlist announcement mail. Both create a pending request and enqueue it;
// governance and fan-out happen in the dispatch workers.
type BroadcastHandler struct {
	requests      RequestCreator
	publisher     RequestPublisher
	audit         AdminAuditLogger
	testRecipient string
	logger        types.Logger
}

// NewBroadcastHandler creates a BroadcastHandler. testRecipient is the
// configured fallback address for test sends whose body names none; empty
// means no fallback.
func NewBroadcastHandler(requests RequestCreator, publisher RequestPublisher, audit AdminAuditLogger, testRecipient string, logger types.Logger) *BroadcastHandler {
	return &BroadcastHandler{
		requests:      requests,
		publisher:     publisher,
		audit:         audit,
		testRecipient: testRecipient,
		logger:        logger,
	}
}

// RegisterRoutes mounts the admin broadcast endpoints.
func (h *BroadcastHandler) RegisterRoutes(r chi.Router) {
	r.Post("/admin/broadcast", h.BroadcastPush)
	r.Post("/admin/announcement", h.Announcement)
}

// BroadcastPush queues a broadcast push request.
func (h *BroadcastHandler) BroadcastPush(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	var body BroadcastPushBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	req := &types.NotificationRequest{
		Kind:    types.KindGenericPush,
		Channel: types.ChannelPush,
		Recipient: types.RecipientSpec{Target: &types.AudienceTarget{
			Audience:  types.Audience(body.Target.Audience),
			Languages: body.Target.Languages,
			Tiers:     body.Target.Tiers,
			Platforms: body.Target.Platforms,
			UserID:    body.Target.UserID,
		}},
		Titles:    body.Titles,
		Bodies:    body.Bodies,
		Data:      body.Data,
		CreatedBy: actor.UID,
	}

	if err := h.requests.Create(r.Context(), req); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := h.publisher.PublishRequest(r.Context(), req, "admin_broadcast"); err != nil {
		api.Error(w, r, err)
		return
	}

	h.logAudit(r.Context(), actor.UID, "broadcast_push", req.ID)

	api.JSON(w, r, http.StatusAccepted, api.APIResponse{Data: CreateRequestResponse{
		RequestID: req.ID,
		Status:    string(types.StatusPending),
	}})
}

// Announcement queues a waitlist announcement mail. In test mode the kind
// switches to waitlist_test and delivery targets only the test recipient.
func (h *BroadcastHandler) Announcement(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	var body AnnouncementBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	kind := types.KindWaitlistAnnouncement
	recipient := types.RecipientSpec{}
	if body.Test {
		to := body.TestRecipient
		if to == "" {
			to = h.testRecipient
		}
		if to == "" {
			api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"test mode requires a test recipient", nil))
			return
		}
		kind = types.KindWaitlistTest
		recipient.To = to
	}

	req := &types.NotificationRequest{
		Kind:      kind,
		Channel:   types.ChannelEmail,
		Recipient: recipient,
		Subject:   body.Subject,
		BodyHTML:  body.BodyHTML,
		CreatedBy: actor.UID,
	}

	if err := h.requests.Create(r.Context(), req); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := h.publisher.PublishRequest(r.Context(), req, "admin_announcement"); err != nil {
		api.Error(w, r, err)
		return
	}

	h.logAudit(r.Context(), actor.UID, "announcement", req.ID)

	api.JSON(w, r, http.StatusAccepted, api.APIResponse{Data: CreateRequestResponse{
		RequestID: req.ID,
		Status:    string(types.StatusPending),
	}})
}

// logAudit records the admin action; audit failures never fail the action.
func (h *BroadcastHandler) logAudit(ctx context.Context, actorUID, action, target string) {
	if err := h.audit.LogAdminAction(ctx, actorUID, action, target, "queued"); err != nil {
		h.logger.Error("failed to write admin audit entry",
			"action", action,
			"target", target,
			"error", err.Error(),
		)
	}
}
