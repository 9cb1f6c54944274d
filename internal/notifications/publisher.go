// Package notifications publishes billing decisions to the outbound SQS
// queue consumed by downstream delivery workers (email, WhatsApp, Telegram).
// The billing service decides; delivery happens elsewhere.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"zenvoice/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends BillingEvent envelopes to a single SQS queue. The event
// kind rides along as a message attribute so workers can filter without
// decoding the body.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSPublisher creates an SQSPublisher for the given queue.
func NewSQSPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes the event and sends it to the queue.
func (p *SQSPublisher) Publish(ctx context.Context, event types.BillingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notifications: failed to marshal billing event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notifications: failed to send billing event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "billing event published",
		"queue_url", p.queueURL,
		"kind", string(event.Kind),
		"tenant_id", event.TenantID,
		"status", string(event.Status),
		"trace_id", event.TraceID,
	)

	return nil
}

// NopPublisher discards events. Wired when no queue URL is configured so the
// engine never has to nil-check its publisher dependency.
type NopPublisher struct {
	Logger *slog.Logger
}

// Publish logs the decision at debug level and drops it.
func (p NopPublisher) Publish(ctx context.Context, event types.BillingEvent) error {
	if p.Logger != nil {
		p.Logger.DebugContext(ctx, "billing event dropped (no queue configured)",
			"kind", string(event.Kind),
			"tenant_id", event.TenantID,
		)
	}
	return nil
}
