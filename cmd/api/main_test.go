package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/external"
	"relaypoint/internal/types"
)

func TestNewLogger_LevelParsing(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			logger := newLogger(tc.level)
			assert.True(t, logger.Enabled(context.Background(), tc.enabled))
			if tc.enabled > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tc.enabled-4))
			}
		})
	}
}

func TestIdentityAuthenticator_ResolvesActor(t *testing.T) {
	auth := &identityAuthenticator{identity: &external.StubIdentityProvider{
		Tokens: map[string]*external.IdentityUser{
			"tok-1": {UID: "user-1", Email: "ada@example.com", DisplayName: "Ada"},
		},
	}}

	actor, err := auth.ResolveToken(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", actor.UID)
	assert.Equal(t, "ada@example.com", actor.Email)
	// Admin is decided by a live role lookup, never by the token.
	assert.False(t, actor.IsAdmin)
}

func TestIdentityAuthenticator_InvalidToken(t *testing.T) {
	auth := &identityAuthenticator{identity: &external.StubIdentityProvider{}}

	_, err := auth.ResolveToken(context.Background(), "nope")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}
