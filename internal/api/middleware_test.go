package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

type fakeAuthenticator struct {
	actors map[string]*types.Actor
}

func (f *fakeAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	if a, ok := f.actors[token]; ok {
		return a, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid identity token", nil)
}

type fakeRoleChecker struct {
	admins map[string]bool
	err    error
}

func (f *fakeRoleChecker) IsAdmin(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func actorCapture(captured **types.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := types.GetActor(r.Context()); ok {
			*captured = &a
		}
		w.WriteHeader(http.StatusOK)
	})
}

func newTestAuth(t *testing.T, authenticator Authenticator, roles RoleChecker) (*Auth, string) {
	t.Helper()
	const serviceToken = "svc-secret-token"
	hash, err := bcrypt.GenerateFromPassword([]byte(serviceToken), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuth(authenticator, roles, string(hash), nopLogger{}), serviceToken
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	var captured *types.Actor
	auth.RequireAuth(actorCapture(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestRequireAuth_ServiceTokenYieldsServiceActor(t *testing.T) {
	auth, serviceToken := newTestAuth(t, &fakeAuthenticator{}, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	rec := httptest.NewRecorder()
	var captured *types.Actor
	auth.RequireAuth(actorCapture(&captured)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "service", captured.UID)
	assert.True(t, captured.IsAdmin)
}

func TestRequireAuth_IdentityTokenResolved(t *testing.T) {
	authenticator := &fakeAuthenticator{actors: map[string]*types.Actor{
		"user-token": {UID: "user-1", Email: "u@example.com"},
	}}
	auth, _ := newTestAuth(t, authenticator, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer user-token")
	rec := httptest.NewRecorder()
	var captured *types.Actor
	auth.RequireAuth(actorCapture(&captured)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "user-1", captured.UID)
	assert.False(t, captured.IsAdmin)
}

func TestRequireAuth_BadTokenRejected(t *testing.T) {
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	var captured *types.Actor
	auth.RequireAuth(actorCapture(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestRequireAdmin_ServiceActorPasses(t *testing.T) {
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithActor(req.Context(), types.Actor{UID: "service", IsAdmin: true}))
	rec := httptest.NewRecorder()
	roleChecked := false
	auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roleChecked = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, roleChecked)
}

func TestRequireAdmin_UsesLiveRoleLookup(t *testing.T) {
	roles := &fakeRoleChecker{admins: map[string]bool{"user-1": true}}
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, roles)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithActor(req.Context(), types.Actor{UID: "user-1"}))
	rec := httptest.NewRecorder()
	auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin_DeniesNonAdmin(t *testing.T) {
	roles := &fakeRoleChecker{admins: map[string]bool{}}
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, roles)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithActor(req.Context(), types.Actor{UID: "user-2", IsAdmin: true}))
	rec := httptest.NewRecorder()
	called := false
	auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestRequireAdmin_NoActorIsUnauthenticated(t *testing.T) {
	auth, _ := newTestAuth(t, &fakeAuthenticator{}, &fakeRoleChecker{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestID_PropagatesIncomingHeader(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-Id"))
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
}

func TestRecoverer_ConvertsPanicTo500(t *testing.T) {
	handler := Recoverer(nopLogger{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "unexpected error")
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer abc"))
	assert.Equal(t, "", extractBearerToken("Basic abc"))
	assert.Equal(t, "", extractBearerToken(""))
	assert.Equal(t, "", extractBearerToken("Bearer"))
}
