// Package queue provides the SQS producers that hand notification requests
// and billing events to the downstream worker functions.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"relaypoint/internal/config"
	"relaypoint/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher routes persisted notification requests to the channel worker
// queues and billing webhook events to the billing queue. A request is
// published after its pending record is created; the message body carries
// the full request so workers do not need a read-modify cycle to start.
type Publisher struct {
	client          SQSSender
	mailQueueURL    string
	pushQueueURL    string
	billingQueueURL string
	logger          types.Logger
}

// NewPublisher creates a Publisher with queue URLs from the AWS config.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, logger types.Logger) *Publisher {
	return &Publisher{
		client:          client,
		mailQueueURL:    awsCfg.MailQueue,
		pushQueueURL:    awsCfg.PushQueue,
		billingQueueURL: awsCfg.BillingQueue,
		logger:          logger,
	}
}

// PublishRequest enqueues a notification request for its channel worker.
// The reason attribute records which trigger produced the request (intake
// record, billing reaction, admin broadcast, scheduled reminder).
func (p *Publisher) PublishRequest(ctx context.Context, req *types.NotificationRequest, reason string) error {
	queueURL, err := p.queueURLForChannel(req.Channel)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal notification request: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(req.Kind)),
			},
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send notification request to %s: %w", queueURL, err)
	}

	p.logger.Info("notification request published",
		"queue_url", queueURL,
		"request_id", req.ID,
		"kind", string(req.Kind),
		"channel", string(req.Channel),
		"reason", reason,
	)

	return nil
}

// PublishBillingEvent enqueues a verified billing webhook event for the
// billing worker. The event has already been persisted; processing off the
// queue keeps webhook acknowledgement fast.
func (p *Publisher) PublishBillingEvent(ctx context.Context, event *types.BillingEvent, reason string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal billing event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.billingQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Type),
			},
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send billing event to %s: %w", p.billingQueueURL, err)
	}

	p.logger.Info("billing event published",
		"queue_url", p.billingQueueURL,
		"event_id", event.ID,
		"event_type", event.Type,
		"reason", reason,
	)

	return nil
}

// queueURLForChannel selects the worker queue for a request's channel.
func (p *Publisher) queueURLForChannel(channel types.Channel) (string, error) {
	switch channel {
	case types.ChannelEmail:
		return p.mailQueueURL, nil
	case types.ChannelPush:
		return p.pushQueueURL, nil
	default:
		return "", types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("no worker queue for channel %q", channel), nil)
	}
}
