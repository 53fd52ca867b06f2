// Package sqs consumes on-demand sync requests from an AWS SQS queue.
//
// Producers enqueue a JSON SyncRequest per wallet; the sync worker receives
// them in batches, syncs each wallet and deletes the message on success.
// Messages that fail transiently are left to reappear after the visibility
// timeout.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// sqsAPI defines the subset of SQS operations needed by the Consumer.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time check that Consumer implements outbound.SQSConsumer
var _ outbound.SQSConsumer = (*Consumer)(nil)

// maxBatch is the SQS limit for MaxNumberOfMessages.
const maxBatch = 10

// Config holds SQS consumer configuration.
type Config struct {
	// QueueURL is the URL of the sync request queue.
	QueueURL string

	// WaitTimeSeconds is how long to wait for messages (long polling).
	// Max is 20 seconds.
	WaitTimeSeconds int32

	// VisibilityTimeout hides received messages for this many seconds.
	// It must exceed the time a wallet sync can take. Zero keeps the queue default.
	VisibilityTimeout int32
}

// ConfigDefaults returns sensible defaults for SQS consumer configuration.
func ConfigDefaults() Config {
	return Config{
		WaitTimeSeconds:   20,
		VisibilityTimeout: 120,
	}
}

// Consumer is an SQS implementation of the outbound.SQSConsumer port.
type Consumer struct {
	client sqsAPI
	config Config
	logger *slog.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(cfg aws.Config, sqsConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*Consumer, error) {
	return newConsumer(sqs.NewFromConfig(cfg, optFns...), sqsConfig, logger)
}

func newConsumer(client sqsAPI, sqsConfig Config, logger *slog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if sqsConfig.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if sqsConfig.WaitTimeSeconds > 20 {
		return nil, fmt.Errorf("wait time %ds exceeds the SQS maximum of 20s", sqsConfig.WaitTimeSeconds)
	}

	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if sqsConfig.WaitTimeSeconds == 0 {
		sqsConfig.WaitTimeSeconds = defaults.WaitTimeSeconds
	}
	if sqsConfig.VisibilityTimeout == 0 {
		sqsConfig.VisibilityTimeout = defaults.VisibilityTimeout
	}

	return &Consumer{
		client: client,
		config: sqsConfig,
		logger: logger.With("component", "sqs-consumer", "queue", sqsConfig.QueueURL),
	}, nil
}

// ReceiveMessages fetches up to maxMessages from the queue.
func (c *Consumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.SQSMessage, error) {
	maxMessages = min(max(maxMessages, 1), maxBatch)

	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]outbound.SQSMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		if msg.MessageId == nil || msg.ReceiptHandle == nil || msg.Body == nil {
			c.logger.Warn("skipping incomplete message", "messageId", aws.ToString(msg.MessageId))
			continue
		}
		messages = append(messages, outbound.SQSMessage{
			MessageID:     *msg.MessageId,
			ReceiptHandle: *msg.ReceiptHandle,
			Body:          *msg.Body,
		})
	}

	if len(messages) > 0 {
		c.logger.Debug("received sync requests", "count", len(messages))
	}
	return messages, nil
}

// DeleteMessage removes a processed message from the queue.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return errors.New("receipt handle is required")
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Close is a no-op; the SQS client holds no connections of its own.
func (c *Consumer) Close() error {
	return nil
}
