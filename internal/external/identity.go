package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relaypoint/internal/types"
)

// identityAPIBase is the default identity toolkit base URL. Overridable in
// tests via IdentityClientConfig.BaseURL.
const identityAPIBase = "https://identitytoolkit.googleapis.com"

// IdentityClientConfig holds the configuration for creating an
// IdentityClient.
type IdentityClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to identityAPIBase
	Logger  types.Logger
}

// IdentityClient implements IdentityProvider against the identity toolkit
// REST API through BaseClient: account lookup by email and out-of-band
// password reset link generation.
type IdentityClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  types.Logger
}

// NewIdentityClient creates an IdentityClient.
func NewIdentityClient(httpClient *http.Client, cfg IdentityClientConfig) *IdentityClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = identityAPIBase
	}

	base := NewBaseClient(
		httpClient,
		"identity",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"RelayPoint/1.0",
	)

	return &IdentityClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  cfg.Logger,
	}
}

// NewIdentityClientWithBase creates an IdentityClient with a pre-configured
// BaseClient.
func NewIdentityClientWithBase(base *BaseClient, cfg IdentityClientConfig) *IdentityClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = identityAPIBase
	}

	return &IdentityClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  cfg.Logger,
	}
}

// VerifyToken resolves a bearer identity token to the account it was issued
// for. Invalid or expired tokens come back as ErrCodeAuthTokenInvalid.
func (c *IdentityClient) VerifyToken(ctx context.Context, idToken string) (*IdentityUser, error) {
	body, err := json.Marshal(map[string]any{"idToken": idToken})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal verify payload", err)
	}

	url := fmt.Sprintf("%s/v1/accounts:lookup?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create verify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, wrapProviderError("VerifyToken", types.ErrCodeUpstreamIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid identity token", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, "VerifyToken")
	}

	var out struct {
		Users []struct {
			LocalID     string `json:"localId"`
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity, "VerifyToken: malformed response", err)
	}
	if len(out.Users) == 0 {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid identity token", nil)
	}

	u := out.Users[0]
	return &IdentityUser{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}, nil
}

// LookupByEmail returns the identity account for an email address, or an
// ErrCodeNotFoundUser AppError when no account exists.
func (c *IdentityClient) LookupByEmail(ctx context.Context, email string) (*IdentityUser, error) {
	body, err := json.Marshal(map[string]any{"email": []string{email}})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal lookup payload", err)
	}

	url := fmt.Sprintf("%s/v1/accounts:lookup?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create lookup request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, wrapProviderError("LookupByEmail", types.ErrCodeUpstreamIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, "LookupByEmail")
	}

	var out struct {
		Users []struct {
			LocalID     string `json:"localId"`
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity, "LookupByEmail: malformed response", err)
	}
	if len(out.Users) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no account for email", nil)
	}

	u := out.Users[0]
	return &IdentityUser{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}, nil
}

// GeneratePasswordResetLink requests an out-of-band password reset link for
// the email address.
func (c *IdentityClient) GeneratePasswordResetLink(ctx context.Context, email string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"requestType":   "PASSWORD_RESET",
		"email":         email,
		"returnOobLink": true,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal reset payload", err)
	}

	url := fmt.Sprintf("%s/v1/accounts:sendOobCode?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create reset request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return "", wrapProviderError("GeneratePasswordResetLink", types.ErrCodeUpstreamIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp, "GeneratePasswordResetLink")
	}

	var out struct {
		OOBLink string `json:"oobLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamIdentity, "GeneratePasswordResetLink: malformed response", err)
	}
	return out.OOBLink, nil
}

func (c *IdentityClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(resp.Body)

	var provErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &provErr)

	// The toolkit reports unknown accounts as EMAIL_NOT_FOUND with a 400.
	if strings.Contains(provErr.Error.Message, "EMAIL_NOT_FOUND") {
		return types.NewAppError(types.ErrCodeNotFoundUser, "no account for email", nil)
	}

	errMsg := provErr.Error.Message
	if errMsg == "" {
		errMsg = string(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: identity provider rate limit exceeded", operation), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: identity provider server error: %s", operation, errMsg), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("%s: identity provider error (%d): %s", operation, resp.StatusCode, errMsg), nil)
	}
}

var _ IdentityProvider = (*IdentityClient)(nil)
