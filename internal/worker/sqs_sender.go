package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSConfig struct {
	Region   string
	QueueURL string // used when the recipient names no queue
	Endpoint string
}

// QueueEvent is the JSON body enqueued for downstream consumers.
type QueueEvent struct {
	Key        string `json:"key"`
	Subject    string `json:"subject"`
	Text       string `json:"text"`
	HTML       string `json:"html,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// SQSSender hands notifications to an SQS queue for another system to deliver.
type SQSSender struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewSQSSender creates a new SQS sender.
func NewSQSSender(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs sender initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &SQSSender{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *SQSSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelQueue {
		return fmt.Errorf("sqs sender only supports queue, got: %s", msg.Channel)
	}

	queueURL := msg.Recipient
	if queueURL == "" {
		queueURL = s.queueURL
	}
	if queueURL == "" {
		return fmt.Errorf("no queue url for message %s", msg.Key)
	}

	body, err := json.Marshal(QueueEvent{
		Key:        msg.Key,
		Subject:    msg.Subject,
		Text:       msg.Text,
		HTML:       msg.HTML,
		EnqueuedAt: s.now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	}
	// SQS rejects empty attribute values.
	if msg.Key != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Key),
			},
		}
	}

	result, err := s.client.SendMessage(ctx, input)
	if err != nil {
		s.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("key", msg.Key),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	s.logger.Info("notification enqueued",
		zap.String("queue_url", queueURL),
		zap.String("key", msg.Key),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SQSSender) SupportsChannel(channel string) bool {
	return channel == ChannelQueue
}
