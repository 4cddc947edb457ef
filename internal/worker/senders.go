package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPermanent marks a failure caused by the recipient rather than the sink:
// the sink answered and refused this one address. Retrying will not help and
// it says nothing about the sink's health.
var ErrPermanent = errors.New("recipient rejected")

// Sender is the unified interface for all notification channels.
// Implementations: SMTP, SES, SNS (SMS and topics), SQS, webhooks, log.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	SupportsChannel(channel string) bool
}

// MultiSender routes messages to the first sender that supports the channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the message to the appropriate sender based on channel
func (m *MultiSender) Send(ctx context.Context, msg *Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(msg.Channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", msg.Channel),
				zap.String("key", msg.Key),
			)
			return sender.Send(ctx, msg)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", msg.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs messages instead of delivering them (development fallback).
type LogSender struct {
	logger   *zap.Logger
	channels map[string]bool
}

// NewLogSender creates a LogSender for the given channels, or for every
// channel when none are named.
func NewLogSender(logger *zap.Logger, channels ...string) *LogSender {
	s := &LogSender{logger: logger}
	if len(channels) > 0 {
		s.channels = make(map[string]bool, len(channels))
		for _, ch := range channels {
			s.channels[ch] = true
		}
	}
	return s
}

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("channel", msg.Channel),
		zap.String("recipient", msg.Recipient),
		zap.String("key", msg.Key),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	if s.channels == nil {
		return knownChannels[channel]
	}
	return s.channels[channel]
}
