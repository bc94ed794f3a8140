package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relaypoint/internal/api"
	"relaypoint/internal/external"
	"relaypoint/internal/types"
)

// UserReader looks up app users for reset-mail personalization. Satisfied by
// *store.UserRepository.
type UserReader interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// SecurityLogger records security-relevant events. Satisfied by
// *store.AuditRepository.
type SecurityLogger interface {
	LogSecurityEvent(ctx context.Context, eventType, identifier string, count int, action string) error
}

// PasswordResetBody is the body for POST /v1/auth/password-reset.
type PasswordResetBody struct {
	Email string `json:"email" validate:"required,email"`
}

// EmailCheckBody is the body for POST /v1/auth/email-exists.
type EmailCheckBody struct {
	Email string `json:"email" validate:"required,email"`
}

// EmailCheckResponse reports account existence.
type EmailCheckResponse struct {
	Exists bool `json:"exists"`
}

// AuthActionsHandler serves the identity-adjacent callables: custom password
// reset mail and account existence checks.
type AuthActionsHandler struct {
	identity  external.IdentityProvider
	users     UserReader
	requests  RequestCreator
	publisher RequestPublisher
	security  SecurityLogger
	logger    types.Logger
}

// NewAuthActionsHandler creates an AuthActionsHandler.
func NewAuthActionsHandler(
	identity external.IdentityProvider,
	users UserReader,
	requests RequestCreator,
	publisher RequestPublisher,
	security SecurityLogger,
	logger types.Logger,
) *AuthActionsHandler {
	return &AuthActionsHandler{
		identity:  identity,
		users:     users,
		requests:  requests,
		publisher: publisher,
		security:  security,
		logger:    logger,
	}
}

// RegisterRoutes mounts the auth action endpoints in the public group.
func (h *AuthActionsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/password-reset", h.PasswordReset)
	r.Post("/auth/email-exists", h.EmailCheck)
}

// PasswordReset issues a reset link through the identity provider and queues
// the localized reset mail in the user's preferred language.
func (h *AuthActionsHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var body PasswordResetBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEmail, "a valid email is required", err))
		return
	}

	account, err := h.identity.LookupByEmail(r.Context(), body.Email)
	if err != nil {
		api.Error(w, r, err)
		return
	}

	resetLink, err := h.identity.GeneratePasswordResetLink(r.Context(), body.Email)
	if err != nil {
		api.Error(w, r, err)
		return
	}

	// The store record carries the preferred language and display name; fall
	// back to identity data when the app profile is missing.
	lang := ""
	name := account.DisplayName
	if user, uerr := h.users.GetByEmail(r.Context(), body.Email); uerr == nil {
		lang = user.PreferredLanguage
		if user.Name != "" {
			name = user.Name
		}
	}

	req := &types.NotificationRequest{
		Kind:         types.KindPasswordReset,
		Channel:      types.ChannelEmail,
		Recipient:    types.RecipientSpec{To: body.Email},
		LanguageHint: lang,
		UserID:       account.UID,
		Data: map[string]string{
			"userName":  name,
			"resetLink": resetLink,
		},
	}
	if err := h.requests.Create(r.Context(), req); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := h.publisher.PublishRequest(r.Context(), req, "password_reset"); err != nil {
		api.Error(w, r, err)
		return
	}

	if err := h.security.LogSecurityEvent(r.Context(), "password_reset_requested", body.Email, 0, "reset_link_issued"); err != nil {
		h.logger.Error("failed to log password reset event", "error", err.Error())
	}

	api.JSON(w, r, http.StatusAccepted, api.APIResponse{Data: CreateRequestResponse{
		RequestID: req.ID,
		Status:    string(types.StatusPending),
	}})
}

// EmailCheck reports whether an account exists for the address, consulting
// the identity provider first and the app store as a fallback.
func (h *AuthActionsHandler) EmailCheck(w http.ResponseWriter, r *http.Request) {
	var body EmailCheckBody
	if err := api.DecodeJSON(w, r, &body); err != nil {
		api.Error(w, r, err)
		return
	}
	if err := validate.Struct(&body); err != nil {
		api.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEmail, "a valid email is required", err))
		return
	}

	if _, err := h.identity.LookupByEmail(r.Context(), body.Email); err == nil {
		api.JSON(w, r, http.StatusOK, api.APIResponse{Data: EmailCheckResponse{Exists: true}})
		return
	}

	exists, err := h.users.EmailExists(r.Context(), body.Email)
	if err != nil {
		api.Error(w, r, err)
		return
	}
	api.JSON(w, r, http.StatusOK, api.APIResponse{Data: EmailCheckResponse{Exists: exists}})
}
