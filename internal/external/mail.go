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

// mailAPIBase is the default transactional mail API base URL.
// Overridable in tests via MailClientConfig.BaseURL.
const mailAPIBase = "https://api.sendgrid.com"

// MailClientConfig holds the configuration for creating a MailClient.
type MailClientConfig struct {
	APIKey   string
	FromName string
	BaseURL  string // Override for testing; defaults to mailAPIBase
	Logger   types.Logger
}

// MailClient implements MailProvider by making direct HTTP calls to the
// provider's v3 mail send API through BaseClient. All requests route through
// the resilience infrastructure (circuit breaker, retries, error mapping),
// and testing with httptest stays straightforward.
type MailClient struct {
	base     *BaseClient
	apiKey   string
	fromName string
	baseURL  string
	logger   types.Logger
}

// NewMailClient creates a MailClient.
func NewMailClient(httpClient *http.Client, cfg MailClientConfig) *MailClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mailAPIBase
	}

	base := NewBaseClient(
		httpClient,
		"mail",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"RelayPoint/1.0",
	)

	return &MailClient{
		base:     base,
		apiKey:   cfg.APIKey,
		fromName: cfg.FromName,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   cfg.Logger,
	}
}

// NewMailClientWithBase creates a MailClient with a pre-configured
// BaseClient. Useful for testing when the BaseClient configuration needs to
// be controlled (e.g. retries disabled).
func NewMailClientWithBase(base *BaseClient, cfg MailClientConfig) *MailClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mailAPIBase
	}

	return &MailClient{
		base:     base,
		apiKey:   cfg.APIKey,
		fromName: cfg.FromName,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   cfg.Logger,
	}
}

// mailPayload is the provider's v3 mail/send JSON request body carrying
// pre-rendered HTML content.
type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContentBlock    `json:"content"`
	CustomArgs       map[string]string     `json:"custom_args,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailContentBlock struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send transmits one email and returns the provider message ID (from the
// X-Message-Id response header) on success.
func (m *MailClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	payload := mailPayload{
		Personalizations: []mailPersonalization{{To: []mailAddress{{Email: input.To}}}},
		From:             mailAddress{Email: input.From, Name: m.fromName},
		Subject:          input.Subject,
		Content:          []mailContentBlock{{Type: "text/html", Value: input.BodyHTML}},
	}
	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.base.Do(req)
	if err != nil {
		return "", wrapProviderError("Send", types.ErrCodeUpstreamMail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}

	return "", m.handleErrorResponse(resp)
}

// mailErrorResponse is the JSON error body returned by the provider.
type mailErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (m *MailClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamMail,
			fmt.Sprintf("Send: mail provider returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	errMsg := string(body)
	var provErr mailErrorResponse
	if jsonErr := json.Unmarshal(body, &provErr); jsonErr == nil && len(provErr.Errors) > 0 {
		errMsg = provErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "Send: mail provider rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("Send: mail provider server error: %s", errMsg), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamMail,
			fmt.Sprintf("Send: mail provider error (%d): %s", resp.StatusCode, errMsg), nil)
	}
}

// wrapProviderError wraps a BaseClient transport error with operation
// context. AppErrors from BaseClient already carry the right code and pass
// through unchanged.
func wrapProviderError(operation string, code types.ErrorCode, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(code, fmt.Sprintf("%s: request failed: %v", operation, err), err)
}

var _ MailProvider = (*MailClient)(nil)
