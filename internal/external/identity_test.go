package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

func newIdentityTestClient(baseURL string) *IdentityClient {
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"identity-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"RelayPoint/1.0",
		WithSleepFunc(noSleep),
	)
	return NewIdentityClientWithBase(base, IdentityClientConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
	})
}

func TestIdentityClient_LookupByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:lookup", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"users":[{"localId":"u1","email":"a@example.com","displayName":"Ayşe"}]}`))
	}))
	defer srv.Close()

	c := newIdentityTestClient(srv.URL)
	u, err := c.LookupByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, "u1", u.UID)
	assert.Equal(t, "Ayşe", u.DisplayName)
}

func TestIdentityClient_LookupByEmail_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer srv.Close()

	c := newIdentityTestClient(srv.URL)
	_, err := c.LookupByEmail(context.Background(), "ghost@example.com")

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestIdentityClient_GeneratePasswordResetLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:sendOobCode", r.URL.Path)
		_, _ = w.Write([]byte(`{"oobLink":"https://relaypoint.app/reset?oobCode=abc"}`))
	}))
	defer srv.Close()

	c := newIdentityTestClient(srv.URL)
	link, err := c.GeneratePasswordResetLink(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://relaypoint.app/reset?oobCode=abc", link)
}

func TestIdentityClient_ResetLink_EmailNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"EMAIL_NOT_FOUND"}}`))
	}))
	defer srv.Close()

	c := newIdentityTestClient(srv.URL)
	_, err := c.GeneratePasswordResetLink(context.Background(), "ghost@example.com")

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}
