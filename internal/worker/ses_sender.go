package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends email through AWS SES.
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	Endpoint  string // optional, e.g. LocalStack
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SESSender{
		client: client,
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends an email with text and HTML bodies via AWS SES
func (s *SESSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", msg.Channel)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("email recipient is required")
	}
	if msg.Subject == "" {
		return fmt.Errorf("email subject is required")
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		},
	}
	if msg.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", msg.Recipient),
		zap.String("key", msg.Key),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this sender supports the email channel
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == ChannelEmail
}
