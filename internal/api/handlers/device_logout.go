package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypoint/internal/api"
	"relaypoint/internal/external"
	"relaypoint/internal/locale"
	"relaypoint/internal/templates"
	"relaypoint/internal/types"
)

// RequestFinalizer is the subset of the request repository the synchronous
// device-logout path needs to settle its record.
type RequestFinalizer interface {
	MarkSent(ctx context.Context, id, messageID string, successCount, failureCount int, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, failureCount int, at time.Time) error
}

// DeviceLogoutBody is the body for POST /v1/device/logout: the registration
// of the device that was just signed out elsewhere.
type DeviceLogoutBody struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android"`
	Lang     string `json:"lang,omitempty"`
}

// DeviceLogoutResponse reports the synchronous delivery result. A stale
// registration is a soft failure the client should treat as success-adjacent:
// the device is already unreachable.
type DeviceLogoutResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// DeviceLogoutHandler sends the security alert to a device that was just
// logged out. Unlike queue-driven dispatch this is synchronous: the caller
// is waiting on the result.
type DeviceLogoutHandler struct {
	push             external.PushProvider
	requests         RequestCreator
	finalizer        RequestFinalizer
	clock            types.Clock
	androidChannelID string
	logger           types.Logger
}

// NewDeviceLogoutHandler creates a DeviceLogoutHandler.
func NewDeviceLogoutHandler(
	push external.PushProvider,
	requests RequestCreator,
	finalizer RequestFinalizer,
	clock types.Clock,
	androidChannelID string,
	logger types.Logger,
) *DeviceLogoutHandler {
	return &DeviceLogoutHandler{
		push:             push,
		requests:         requests,
		finalizer:        finalizer,
		clock:            clock,
		androidChannelID: androidChannelID,
		logger:           logger,
	}
}

// RegisterRoutes mounts the device-logout endpoint in the authenticated group.
func (h *DeviceLogoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/device/logout", h.Handle)
}

// Handle validates the device registration, persists an audit request
// record, and pushes the localized logout alert.
func (h *DeviceLogoutHandler) Handle(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		api.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated,
			"authentication required", nil))
		return
	}

	var body DeviceLogoutBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), err))
		return
	}

	req := &types.NotificationRequest{
		Kind:    types.KindDeviceLogout,
		Channel: types.ChannelPush,
		Recipient: types.RecipientSpec{Target: &types.AudienceTarget{
			Audience: types.AudienceIndividual,
			UserID:   actor.UID,
		}},
		LanguageHint: body.Lang,
		UserID:       actor.UID,
		CreatedBy:    actor.UID,
	}
	if err := h.requests.Create(r.Context(), req); err != nil {
		api.Error(w, r, err)
		return
	}

	content := templates.DeviceLogout(locale.Resolve(body.Lang))
	msg := &types.PushMessage{
		TargetKind:       types.PushTargetToken,
		Token:            body.Token,
		Title:            content.Title,
		Body:             content.Body,
		AndroidChannelID: h.androidChannelID,
		AndroidPriority:  "high",
		APNSSound:        "default",
	}

	msgID, sendErr := h.push.Send(r.Context(), msg)
	if sendErr != nil {
		reason := h.settleFailure(r.Context(), req.ID, sendErr)
		if reason == "" {
			api.Error(w, r, sendErr)
			return
		}
		api.JSON(w, r, http.StatusOK, api.APIResponse{Data: DeviceLogoutResponse{
			Success: false,
			Reason:  reason,
		}})
		return
	}

	if err := h.finalizer.MarkSent(r.Context(), req.ID, msgID, 1, 0, h.clock.Now()); err != nil {
		h.logger.Error("failed to mark device-logout request sent", "request_id", req.ID, "error", err.Error())
	}

	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: DeviceLogoutResponse{Success: true}})
}

// settleFailure classifies the send error. Stale registrations settle the
// record as failed and return a reason for the soft-failure response; hard
// transport errors return empty so the caller surfaces the error itself.
func (h *DeviceLogoutHandler) settleFailure(ctx context.Context, requestID string, sendErr error) string {
	var appErr *types.AppError
	if !errors.As(sendErr, &appErr) || appErr.Code != types.ErrCodePushTokenStale {
		if err := h.finalizer.MarkFailed(ctx, requestID, sendErr.Error(), 1, h.clock.Now()); err != nil {
			h.logger.Error("failed to mark device-logout request failed", "request_id", requestID, "error", err.Error())
		}
		return ""
	}

	h.logger.Warn("device-logout push hit stale registration", "request_id", requestID)
	if err := h.finalizer.MarkFailed(ctx, requestID, "stale_token", 1, h.clock.Now()); err != nil {
		h.logger.Error("failed to mark device-logout request failed", "request_id", requestID, "error", err.Error())
	}
	return "stale_token"
}
