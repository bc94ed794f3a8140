package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypoint/internal/api"
	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

// waitlistBurstWindow is the rolling window for the source burst guard.
const waitlistBurstWindow = time.Hour

// WaitlistStore persists waitlist signups. Satisfied by
// *store.IntakeRepository.
type WaitlistStore interface {
	CreateWaitlistEntry(ctx context.Context, entry *types.WaitlistEntry) error
}

// IntakeGovernor runs the source burst guard over a freshly written intake
// record. Satisfied by *governor.Governor.
type IntakeGovernor interface {
	AdmitIntake(ctx context.Context, collection, sourceKey, recordID string, cap int, window time.Duration) (bool, error)
}

// WaitlistBody is the body for POST /v1/waitlist.
type WaitlistBody struct {
	Email  string `json:"email" validate:"required,email"`
	Source string `json:"source,omitempty"`
}

// WaitlistResponse acknowledges the signup. Quarantined signups are
// acknowledged identically: the guard's job is abuse mitigation, not
// feedback to the abuser.
type WaitlistResponse struct {
	Accepted bool `json:"accepted"`
}

// WaitlistHandler is the public waitlist intake. It writes the entry first
// and then runs the burst guard, mirroring the document-write-then-trigger
// flow: records beyond the per-source cap are deleted and logged.
type WaitlistHandler struct {
	entries  WaitlistStore
	governor IntakeGovernor
	burstCap int
	logger   types.Logger
}

// NewWaitlistHandler creates a WaitlistHandler with the configured per-source
// hourly cap.
func NewWaitlistHandler(entries WaitlistStore, governor IntakeGovernor, burstCap int, logger types.Logger) *WaitlistHandler {
	return &WaitlistHandler{
		entries:  entries,
		governor: governor,
		burstCap: burstCap,
		logger:   logger,
	}
}

// RegisterRoutes mounts the waitlist endpoint in the public group.
func (h *WaitlistHandler) RegisterRoutes(r chi.Router) {
	r.Post("/waitlist", h.Signup)
}

// Signup validates and persists one waitlist entry, then applies the burst
// guard keyed by the signup source.
func (h *WaitlistHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var body WaitlistBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEmail, "a valid email is required", err))
		return
	}

	source := body.Source
	if source == "" {
		source = clientIP(r)
	}

	entry := &types.WaitlistEntry{
		Email:  strings.ToLower(strings.TrimSpace(body.Email)),
		Source: source,
	}
	if err := h.entries.CreateWaitlistEntry(r.Context(), entry); err != nil {
		api.Error(w, r, err)
		return
	}

	admitted, err := h.governor.AdmitIntake(r.Context(), store.CollectionWaitlist, source, entry.ID, h.burstCap, waitlistBurstWindow)
	if err != nil {
		h.logger.Error("waitlist burst guard check failed", "source", source, "error", err.Error())
	} else if !admitted {
		h.logger.Warn("waitlist signup quarantined", "source", source)
	}

	api.JSON(w, r, http.StatusAccepted, api.APIResponse{Data: WaitlistResponse{Accepted: true}})
}

// clientIP extracts the caller address, preferring the forwarding header the
// platform sets in front of the function.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
