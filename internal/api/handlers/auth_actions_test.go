package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/external"
	"relaypoint/internal/types"
)

type fakeUserReader struct {
	users map[string]*types.User // keyed by email
}

func (f *fakeUserReader) GetByEmail(_ context.Context, email string) (*types.User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (f *fakeUserReader) EmailExists(_ context.Context, email string) (bool, error) {
	_, ok := f.users[email]
	return ok, nil
}

func newAuthFixture(identity external.IdentityProvider, users *fakeUserReader) (*AuthActionsHandler, *fakeRequestCreator, *fakePublisher, *fakeAudit) {
	creator := &fakeRequestCreator{}
	publisher := &fakePublisher{}
	audit := &fakeAudit{}
	h := NewAuthActionsHandler(identity, users, creator, publisher, audit, nopLogger{})
	return h, creator, publisher, audit
}

func TestPasswordReset_QueuesLocalizedMail(t *testing.T) {
	identity := &external.StubIdentityProvider{
		Users: map[string]*external.IdentityUser{
			"ali@example.com": {UID: "uid-ali", Email: "ali@example.com", DisplayName: "Ali"},
		},
	}
	users := &fakeUserReader{users: map[string]*types.User{
		"ali@example.com": {ID: "uid-ali", Email: "ali@example.com", Name: "Ali Veli", PreferredLanguage: "tr"},
	}}
	h, creator, publisher, audit := newAuthFixture(identity, users)

	rec := doJSON(h.PasswordReset, "/v1/auth/password-reset", `{"email":"ali@example.com"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, creator.created, 1)
	req := creator.created[0]
	assert.Equal(t, types.KindPasswordReset, req.Kind)
	assert.Equal(t, types.ChannelEmail, req.Channel)
	assert.Equal(t, "ali@example.com", req.Recipient.To)
	assert.Equal(t, "tr", req.LanguageHint)
	assert.Equal(t, "uid-ali", req.UserID)
	assert.Equal(t, "Ali Veli", req.Data["userName"])
	assert.Contains(t, req.Data["resetLink"], "https://relaypoint.app/reset")

	assert.Equal(t, []string{"password_reset"}, publisher.reasons)
	require.Len(t, audit.security, 1)
	assert.Equal(t, "password_reset_requested", audit.security[0].action)
	assert.Equal(t, "ali@example.com", audit.security[0].actorUID)
}

func TestPasswordReset_FallsBackToIdentityProfile(t *testing.T) {
	identity := &external.StubIdentityProvider{
		Users: map[string]*external.IdentityUser{
			"new@example.com": {UID: "uid-new", Email: "new@example.com", DisplayName: "New User"},
		},
	}
	h, creator, _, _ := newAuthFixture(identity, &fakeUserReader{users: map[string]*types.User{}})

	rec := doJSON(h.PasswordReset, "/v1/auth/password-reset", `{"email":"new@example.com"}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, creator.created, 1)
	assert.Equal(t, "New User", creator.created[0].Data["userName"])
	assert.Empty(t, creator.created[0].LanguageHint)
}

func TestPasswordReset_UnknownAccountRejected(t *testing.T) {
	identity := &external.StubIdentityProvider{Users: map[string]*external.IdentityUser{}}
	h, creator, publisher, _ := newAuthFixture(identity, &fakeUserReader{users: map[string]*types.User{}})

	rec := doJSON(h.PasswordReset, "/v1/auth/password-reset", `{"email":"ghost@example.com"}`, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, creator.created)
	assert.Empty(t, publisher.published)
}

func TestPasswordReset_InvalidEmailRejected(t *testing.T) {
	identity := &external.StubIdentityProvider{Users: map[string]*external.IdentityUser{}}
	h, creator, _, _ := newAuthFixture(identity, &fakeUserReader{users: map[string]*types.User{}})

	rec := doJSON(h.PasswordReset, "/v1/auth/password-reset", `{"email":"not-an-email"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, creator.created)
}

func TestEmailCheck_IdentityProviderHit(t *testing.T) {
	identity := &external.StubIdentityProvider{
		Users: map[string]*external.IdentityUser{
			"ali@example.com": {UID: "uid-ali", Email: "ali@example.com"},
		},
	}
	h, _, _, _ := newAuthFixture(identity, &fakeUserReader{users: map[string]*types.User{}})

	rec := doJSON(h.EmailCheck, "/v1/auth/email-exists", `{"email":"ali@example.com"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data EmailCheckResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Exists)
}

func TestEmailCheck_StoreFallback(t *testing.T) {
	identity := &external.StubIdentityProvider{Users: map[string]*external.IdentityUser{}}
	users := &fakeUserReader{users: map[string]*types.User{
		"legacy@example.com": {ID: "uid-legacy", Email: "legacy@example.com"},
	}}
	h, _, _, _ := newAuthFixture(identity, users)

	rec := doJSON(h.EmailCheck, "/v1/auth/email-exists", `{"email":"legacy@example.com"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data EmailCheckResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Exists)
}

func TestEmailCheck_UnknownEverywhere(t *testing.T) {
	identity := &external.StubIdentityProvider{Users: map[string]*external.IdentityUser{}}
	h, _, _, _ := newAuthFixture(identity, &fakeUserReader{users: map[string]*types.User{}})

	rec := doJSON(h.EmailCheck, "/v1/auth/email-exists", `{"email":"ghost@example.com"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data EmailCheckResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Exists)
}
