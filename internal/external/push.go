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

// pushAPIBase is the default push API base URL. Overridable in tests via
// PushClientConfig.BaseURL.
const pushAPIBase = "https://fcm.googleapis.com"

// PushClientConfig holds the configuration for creating a PushClient.
type PushClientConfig struct {
	ProjectID string
	APIKey    string
	BaseURL   string // Override for testing; defaults to pushAPIBase
	Logger    types.Logger
}

// PushClient implements PushProvider against the push service's HTTP v1
// messages:send endpoint through BaseClient.
//
// Stale-registration responses (the token no longer maps to an installed
// app) are mapped to ErrCodePushTokenStale so the dispatch engine can treat
// them as per-recipient soft failures instead of request-level errors.
type PushClient struct {
	base      *BaseClient
	projectID string
	apiKey    string
	baseURL   string
	logger    types.Logger
}

// NewPushClient creates a PushClient.
func NewPushClient(httpClient *http.Client, cfg PushClientConfig) *PushClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = pushAPIBase
	}

	base := NewBaseClient(
		httpClient,
		"push",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"RelayPoint/1.0",
	)

	return &PushClient{
		base:      base,
		projectID: cfg.ProjectID,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    cfg.Logger,
	}
}

// NewPushClientWithBase creates a PushClient with a pre-configured
// BaseClient.
func NewPushClientWithBase(base *BaseClient, cfg PushClientConfig) *PushClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = pushAPIBase
	}

	return &PushClient{
		base:      base,
		projectID: cfg.ProjectID,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    cfg.Logger,
	}
}

// Wire shapes for the HTTP v1 messages:send request.
type pushSendRequest struct {
	Message pushWireMessage `json:"message"`
}

type pushWireMessage struct {
	Token     string            `json:"token,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	Condition string            `json:"condition,omitempty"`
	Data      map[string]string `json:"data,omitempty"`

	Notification *pushNotification `json:"notification,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
	APNS         *apnsConfig       `json:"apns,omitempty"`
}

type pushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type androidConfig struct {
	Priority     string                   `json:"priority,omitempty"`
	Notification *androidNotificationSpec `json:"notification,omitempty"`
}

type androidNotificationSpec struct {
	ChannelID string `json:"channel_id,omitempty"`
}

type apnsConfig struct {
	Payload apnsPayload `json:"payload"`
}

type apnsPayload struct {
	APS apsDict `json:"aps"`
}

type apsDict struct {
	Sound string `json:"sound,omitempty"`
	Badge int    `json:"badge,omitempty"`
}

// Send delivers one push message and returns the provider message name.
func (p *PushClient) Send(ctx context.Context, msg *types.PushMessage) (string, error) {
	wire := pushWireMessage{
		Data: msg.Data,
		Notification: &pushNotification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}

	switch msg.TargetKind {
	case types.PushTargetToken:
		wire.Token = msg.Token
	case types.PushTargetTopic:
		wire.Topic = msg.Topic
	case types.PushTargetCondition:
		wire.Condition = msg.Condition
	default:
		return "", types.NewAppError(types.ErrCodeValidationInvalidTarget,
			fmt.Sprintf("invalid push target kind: %s", msg.TargetKind), nil)
	}

	if msg.AndroidChannelID != "" || msg.AndroidPriority != "" {
		wire.Android = &androidConfig{Priority: msg.AndroidPriority}
		if msg.AndroidChannelID != "" {
			wire.Android.Notification = &androidNotificationSpec{ChannelID: msg.AndroidChannelID}
		}
	}
	if msg.APNSSound != "" || msg.APNSBadge > 0 {
		wire.APNS = &apnsConfig{Payload: apnsPayload{APS: apsDict{
			Sound: msg.APNSSound,
			Badge: msg.APNSBadge,
		}}}
	}

	body, err := json.Marshal(pushSendRequest{Message: wire})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal push payload", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", p.baseURL, p.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create push send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.base.Do(req)
	if err != nil {
		return "", wrapProviderError("Send", types.ErrCodeUpstreamPush, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var out struct {
			Name string `json:"name"`
		}
		if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
			return "", nil
		}
		return out.Name, nil
	}

	return "", p.handleErrorResponse(resp)
}

// pushErrorResponse is the JSON error body returned by the push service.
type pushErrorResponse struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Error codes that mean the registration token is no longer valid. These are
// expected during normal operation (app uninstalled, token rotated) and must
// not fail a whole request.
var staleTokenCodes = map[string]bool{
	"UNREGISTERED":                      true,
	"registration-token-not-registered": true,
}

func (p *PushClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamPush,
			fmt.Sprintf("Send: push provider returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var provErr pushErrorResponse
	_ = json.Unmarshal(body, &provErr)

	if isStaleTokenError(resp.StatusCode, &provErr) {
		return types.NewAppError(types.ErrCodePushTokenStale,
			"Send: registration token is no longer valid", nil)
	}

	errMsg := provErr.Error.Message
	if errMsg == "" {
		errMsg = string(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "Send: push provider rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("Send: push provider server error: %s", errMsg), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamPush,
			fmt.Sprintf("Send: push provider error (%d): %s", resp.StatusCode, errMsg), nil)
	}
}

// isStaleTokenError reports whether the error response identifies a stale
// registration token. The service signals this as 404/UNREGISTERED; some
// responses carry the detail code instead of the status.
func isStaleTokenError(statusCode int, provErr *pushErrorResponse) bool {
	if statusCode == http.StatusNotFound && provErr.Error.Status == "NOT_FOUND" {
		return true
	}
	if staleTokenCodes[provErr.Error.Status] {
		return true
	}
	for _, d := range provErr.Error.Details {
		if staleTokenCodes[d.ErrorCode] {
			return true
		}
	}
	return false
}

var _ PushProvider = (*PushClient)(nil)
