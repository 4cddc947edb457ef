package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// maxSMSLength is the SNS limit for a single transactional SMS.
const maxSMSLength = 1600

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS directly to phone numbers and publishes to SNS topics,
// tagging topic messages with a channel attribute for subscription filters.
type SNSSender struct {
	client snsAPI
	logger *zap.Logger
}

type SNSConfig struct {
	Region   string
	Endpoint string // optional, e.g. LocalStack
}

// NewSNSSender creates a new SNS sender
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SNSSender{
		client: client,
		logger: logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, msg *Message) error {
	if !s.SupportsChannel(msg.Channel) {
		return fmt.Errorf("SNS sender only supports sms and topic, got: %s", msg.Channel)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("sns recipient is required")
	}

	input := &sns.PublishInput{}
	if msg.Channel == ChannelTopic || strings.HasPrefix(msg.Recipient, "arn:") {
		input.TopicArn = aws.String(msg.Recipient)
		if msg.Subject != "" {
			input.Subject = aws.String(truncate(msg.Subject, 100))
		}
		input.Message = aws.String(msg.Text)
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Channel),
			},
		}
		if msg.Key != "" {
			input.MessageAttributes["key"] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Key),
			}
		}
	} else {
		input.PhoneNumber = aws.String(msg.Recipient)
		input.Message = aws.String(truncate(smsBody(msg), maxSMSLength))
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("notification published via SNS",
		zap.String("channel", msg.Channel),
		zap.String("recipient", msg.Recipient),
		zap.String("key", msg.Key),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == ChannelSMS || channel == ChannelTopic
}

func smsBody(msg *Message) string {
	if msg.Subject == "" {
		return msg.Text
	}
	return msg.Subject + "\n" + msg.Text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
