// Package audit records the outcome of every relay invocation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

// Outcome values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Event is one audited invocation. Message is the canonical message the
// actor signed.
type Event struct {
	InvocationID string    `json:"invocation_id"`
	Action       string    `json:"action"`
	Actor        string    `json:"actor_address,omitempty"`
	Message      string    `json:"message,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	DryRun       bool      `json:"dry_run"`
	Outcome      string    `json:"outcome"`
	Category     string    `json:"category,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers audit events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish implements Publisher.
func (p *SQSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"Action":  {StringValue: aws.String(event.Action), DataType: aws.String("String")},
		"Outcome": {StringValue: aws.String(event.Outcome), DataType: aws.String("String")},
	}
	if event.Category != "" {
		attrs["Category"] = types.MessageAttributeValue{StringValue: aws.String(event.Category), DataType: aws.String("String")}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to send audit event to SQS: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log, for local stages.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logger.Or(nil)}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("Relay invocation audited",
		zap.String("invocation_id", event.InvocationID),
		zap.String("action", event.Action),
		zap.String("actor", event.Actor),
		zap.String("tx_hash", event.TxHash),
		zap.Bool("dry_run", event.DryRun),
		zap.String("outcome", event.Outcome),
		zap.String("category", event.Category),
	)
	return nil
}

// Record publishes event and logs, rather than returns, any failure.
func Record(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Or(nil).Warn("Failed to publish audit event",
			zap.String("invocation_id", event.InvocationID),
			zap.Error(err),
		)
	}
}
