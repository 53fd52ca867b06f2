// Package sns implements the EventSink interface using AWS SNS.
//
// After a wallet sync is reconciled, a balances_synced event is published to
// one topic. Downstream consumers filter on the message attributes:
//   - eventType: "balances_synced"
//   - chain: the chain code, e.g. "ETH" or "KDA"
//   - walletId: the wallet UUID
//
// FIFO topics (ARN ending in .fifo) group messages by wallet so events for one
// wallet stay ordered.
//
// For testing, use the memory.EventSink adapter instead.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// SNSPublisher defines the subset of SNS client methods used by EventSink.
// This interface allows for easy mocking in tests.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS event sink.
type Config struct {
	// TopicARN is the topic balances_synced events are published to.
	TopicARN string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// EventSink publishes events to AWS SNS.
type EventSink struct {
	client SNSPublisher
	config Config
	retry  retry.Config
	fifo   bool
	logger *slog.Logger
	closed atomic.Bool
}

// NewEventSink creates a new SNS event sink.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}
	applyDefaults(&config, ConfigDefaults())

	return &EventSink{
		client: client,
		config: config,
		retry: retry.Config{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  config.BackoffFactor,
			Jitter:         true,
		},
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-eventsink", "topic", config.TopicARN),
	}, nil
}

func applyDefaults(config *Config, defaults Config) {
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Publish sends one balances_synced event. Transient SNS failures are
// retried; validation and authorization faults are returned at once.
func (s *EventSink) Publish(ctx context.Context, event outbound.BalancesSyncedEvent) error {
	if s.closed.Load() {
		return errors.New("event sink is closed")
	}

	input, err := s.buildInput(event)
	if err != nil {
		return err
	}

	err = retry.DoVoid(ctx, s.retry, isRetryableError,
		func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn("publish failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"walletId", event.WalletID,
				"error", err)
		},
		func() error {
			_, err := s.client.Publish(ctx, input)
			return err
		},
	)
	if err != nil {
		return fmt.Errorf("publishing %s for wallet %s: %w", event.EventType(), event.WalletID, err)
	}
	return nil
}

// buildInput encodes the event and the attributes subscribers filter on.
// totalValueUsd is a Number attribute so filter policies can use ranges.
func (s *EventSink) buildInput(event outbound.BalancesSyncedEvent) (*sns.PublishInput, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType":     attr("String", string(event.EventType())),
			"chain":         attr("String", event.ChainCode),
			"walletId":      attr("String", event.WalletID),
			"totalValueUsd": attr("Number", event.TotalValueUSD.String()),
		},
	}
	if event.ErrorCount > 0 {
		input.MessageAttributes["degraded"] = attr("String", "true")
	}
	if s.fifo {
		input.MessageGroupId = aws.String(event.WalletID)
		input.MessageDeduplicationId = aws.String(event.WalletID + "-" + strconv.FormatInt(event.SyncedAt.UnixNano(), 10))
	}
	return input, nil
}

func attr(dataType, value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String(dataType), StringValue: aws.String(value)}
}

// isRetryableError retries throttling, internal faults and unclassified
// (network) errors. Other client faults are final.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		throttled   *types.ThrottledException
		internal    *types.InternalErrorException
		kmsThrottle *types.KMSThrottlingException
	)
	if errors.As(err, &throttled) || errors.As(err, &internal) || errors.As(err, &kmsThrottle) {
		return true
	}

	var apiErr smithy.APIError
	return !errors.As(err, &apiErr) || apiErr.ErrorFault() != smithy.FaultClient
}

// Close stops further publishing. It is safe to call more than once.
func (s *EventSink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("SNS event sink closed")
	}
	return nil
}
