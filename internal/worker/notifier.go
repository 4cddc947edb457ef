package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/metrics"
)

// Notifier adapts a Sender to the fire-and-report contract the scheduler
// relies on: it never returns an error, it reports whether delivery worked.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

// NewNotifier creates a Notifier over sender.
func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

// Notify parses recipient ("channel:address" or a bare address) and sends.
func (n *Notifier) Notify(ctx context.Context, recipient, subject, text, html string) bool {
	return n.NotifyKey(ctx, "", recipient, subject, text, html)
}

// NotifyKey is Notify with a correlation key attached to the message.
func (n *Notifier) NotifyKey(ctx context.Context, key, recipient, subject, text, html string) bool {
	channel, address, err := ParseRecipient(recipient)
	if err != nil {
		n.logger.Error("dropping notification for bad recipient",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		metrics.RecordNotification("invalid", "unknown")
		return false
	}

	return n.Deliver(ctx, &Message{
		Recipient: address,
		Channel:   channel,
		Subject:   subject,
		Text:      text,
		HTML:      html,
		Key:       key,
	})
}

// Deliver sends msg and records the outcome.
func (n *Notifier) Deliver(ctx context.Context, msg *Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("sender panicked",
				zap.String("channel", msg.Channel),
				zap.Any("panic", r),
			)
			metrics.RecordNotification("error", msg.Channel)
			ok = false
		}
	}()

	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("notification send failed",
			zap.String("channel", msg.Channel),
			zap.String("recipient", msg.Recipient),
			zap.String("key", msg.Key),
			zap.Error(err),
		)
		metrics.RecordNotification("error", msg.Channel)
		return false
	}

	metrics.RecordNotification("sent", msg.Channel)
	return true
}
