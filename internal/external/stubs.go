package external

import (
	"context"
	"fmt"

	"relaypoint/internal/types"
)

// Stub providers for local development and tests. They log what would have
// been sent and report success.

// StubMailProvider implements MailProvider without calling any provider.
type StubMailProvider struct {
	Logger types.Logger

	// Sent records every input for assertion in tests.
	Sent []types.SendInput
}

// Send records the input and returns a synthetic message ID.
func (s *StubMailProvider) Send(_ context.Context, input types.SendInput) (string, error) {
	s.Sent = append(s.Sent, input)
	if s.Logger != nil {
		s.Logger.Info("stub mail send", "to", input.To, "subject", input.Subject)
	}
	return fmt.Sprintf("stub-mail-%d", len(s.Sent)), nil
}

// StubPushProvider implements PushProvider without calling any provider.
type StubPushProvider struct {
	Logger types.Logger

	Sent []*types.PushMessage
}

// Send records the message and returns a synthetic message name.
func (s *StubPushProvider) Send(_ context.Context, msg *types.PushMessage) (string, error) {
	s.Sent = append(s.Sent, msg)
	if s.Logger != nil {
		s.Logger.Info("stub push send", "target", string(msg.TargetKind), "title", msg.Title)
	}
	return fmt.Sprintf("stub-push-%d", len(s.Sent)), nil
}

// StubIdentityProvider implements IdentityProvider with a fixed user table.
type StubIdentityProvider struct {
	Users  map[string]*IdentityUser // keyed by email
	Tokens map[string]*IdentityUser // keyed by bearer token
}

// VerifyToken returns the user the token maps to, or token-invalid.
func (s *StubIdentityProvider) VerifyToken(_ context.Context, idToken string) (*IdentityUser, error) {
	if u, ok := s.Tokens[idToken]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid identity token", nil)
}

// LookupByEmail returns the configured user or not-found.
func (s *StubIdentityProvider) LookupByEmail(_ context.Context, email string) (*IdentityUser, error) {
	if u, ok := s.Users[email]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no account for email", nil)
}

// GeneratePasswordResetLink returns a synthetic link for known users.
func (s *StubIdentityProvider) GeneratePasswordResetLink(_ context.Context, email string) (string, error) {
	if _, ok := s.Users[email]; !ok {
		return "", types.NewAppError(types.ErrCodeNotFoundUser, "no account for email", nil)
	}
	return "https://relaypoint.app/reset?email=" + email, nil
}

var (
	_ MailProvider     = (*StubMailProvider)(nil)
	_ PushProvider     = (*StubPushProvider)(nil)
	_ IdentityProvider = (*StubIdentityProvider)(nil)
)
