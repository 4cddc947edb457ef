package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/worker"
)

// ProtectedSender wraps a worker.Sender with a CircuitBreaker so a dead
// sink fails fast instead of stalling every notification poll.
type ProtectedSender struct {
	sender  worker.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ worker.Sender = (*ProtectedSender)(nil)

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender worker.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Protect wraps sender with a breaker using DefaultConfig(name).
func Protect(name string, sender worker.Sender, logger *zap.Logger) *ProtectedSender {
	return NewProtectedSender(sender, New(DefaultConfig(name), logger), logger)
}

// Send passes msg through unless the circuit is open. Cancellation of the
// caller's context is not held against the sink, and neither is a
// worker.ErrPermanent refusal of a single recipient.
func (p *ProtectedSender) Send(ctx context.Context, msg *worker.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected request - failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("key", msg.Key),
			zap.String("channel", msg.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, msg)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		p.breaker.RecordAbandoned()
	case errors.Is(err, worker.ErrPermanent):
		p.breaker.RecordRefused()
	default:
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
	}

	return err
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for health reporting.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
