package external

import (
	"context"

	"relaypoint/internal/types"
)

// MailProvider sends a single transactional email and returns the provider
// message ID.
type MailProvider interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// PushProvider delivers one push message to a token, topic, or condition
// target. Stale-registration failures come back as ErrCodePushTokenStale so
// the engine can treat them as per-recipient soft failures.
type PushProvider interface {
	Send(ctx context.Context, msg *types.PushMessage) (string, error)
}

// IdentityProvider is the auth backend: bearer token verification, user
// lookup by email, and password reset link generation.
type IdentityProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*IdentityUser, error)
	LookupByEmail(ctx context.Context, email string) (*IdentityUser, error)
	GeneratePasswordResetLink(ctx context.Context, email string) (string, error)
}

// IdentityUser is the identity backend's view of an account.
type IdentityUser struct {
	UID         string
	Email       string
	DisplayName string
}
