package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/config"
	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

type mockSQSClient struct {
	mock.Mock
}

func (m *mockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func testAWSConfig() config.AWSConfig {
	return config.AWSConfig{
		MailQueue:    "https://sqs.test/mail-requests",
		PushQueue:    "https://sqs.test/push-requests",
		BillingQueue: "https://sqs.test/billing-events",
	}
}

func TestPublishRequest_MailChannelRoutesToMailQueue(t *testing.T) {
	client := &mockSQSClient{}
	pub := NewPublisher(client, testAWSConfig(), nopLogger{})

	req := &types.NotificationRequest{
		ID:        "req-1",
		Kind:      types.KindWelcome,
		Channel:   types.ChannelEmail,
		Recipient: types.RecipientSpec{To: "a@example.com"},
	}

	var captured *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*sqs.SendMessageInput) }).
		Return(&sqs.SendMessageOutput{}, nil)

	err := pub.PublishRequest(context.Background(), req, "intake_record")
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "https://sqs.test/mail-requests", *captured.QueueUrl)
	assert.Equal(t, "welcome", *captured.MessageAttributes["kind"].StringValue)
	assert.Equal(t, "intake_record", *captured.MessageAttributes["reason"].StringValue)

	var decoded types.NotificationRequest
	require.NoError(t, json.Unmarshal([]byte(*captured.MessageBody), &decoded))
	assert.Equal(t, "req-1", decoded.ID)
	assert.Equal(t, "a@example.com", decoded.Recipient.To)
}

func TestPublishRequest_PushChannelRoutesToPushQueue(t *testing.T) {
	client := &mockSQSClient{}
	pub := NewPublisher(client, testAWSConfig(), nopLogger{})

	req := &types.NotificationRequest{
		ID:      "req-2",
		Kind:    types.KindGenericPush,
		Channel: types.ChannelPush,
	}

	var captured *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*sqs.SendMessageInput) }).
		Return(&sqs.SendMessageOutput{}, nil)

	require.NoError(t, pub.PublishRequest(context.Background(), req, "admin_broadcast"))
	assert.Equal(t, "https://sqs.test/push-requests", *captured.QueueUrl)
}

func TestPublishRequest_UnknownChannelRejectedWithoutSend(t *testing.T) {
	client := &mockSQSClient{}
	pub := NewPublisher(client, testAWSConfig(), nopLogger{})

	req := &types.NotificationRequest{ID: "req-3", Channel: types.Channel("sms")}
	err := pub.PublishRequest(context.Background(), req, "intake_record")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidKind, appErr.Code)
	client.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestPublishRequest_SendFailureWrapped(t *testing.T) {
	client := &mockSQSClient{}
	pub := NewPublisher(client, testAWSConfig(), nopLogger{})

	client.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("throttled"))

	req := &types.NotificationRequest{ID: "req-4", Channel: types.ChannelEmail}
	err := pub.PublishRequest(context.Background(), req, "intake_record")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestPublishBillingEvent(t *testing.T) {
	client := &mockSQSClient{}
	pub := NewPublisher(client, testAWSConfig(), nopLogger{})

	event := &types.BillingEvent{
		ID:        "evt-1",
		Type:      "BILLING_ISSUE",
		AppUserID: "u1",
		ProductID: "prod_standard_monthly",
		CreatedAt: time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC),
	}

	var captured *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*sqs.SendMessageInput) }).
		Return(&sqs.SendMessageOutput{}, nil)

	require.NoError(t, pub.PublishBillingEvent(context.Background(), event, "webhook"))

	assert.Equal(t, "https://sqs.test/billing-events", *captured.QueueUrl)
	assert.Equal(t, "BILLING_ISSUE", *captured.MessageAttributes["event_type"].StringValue)

	var decoded types.BillingEvent
	require.NoError(t, json.Unmarshal([]byte(*captured.MessageBody), &decoded))
	assert.Equal(t, "evt-1", decoded.ID)
	assert.Equal(t, "u1", decoded.AppUserID)
}
