// Package notify decides when a stored contest is due a reminder and makes
// sure each (contest, threshold) pair is delivered at most once per window.
package notify

import (
	"context"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/metrics"
)

// DefaultThresholds are the lead times, in minutes, at which users are notified.
var DefaultThresholds = []int{360, 120, 60, 30, 15}

// DefaultTolerance is how far, in minutes, the rounded lead time may drift
// from a threshold and still match it.
const DefaultTolerance = 5

// ContestSource lists contests that start in (now, now+horizon].
type ContestSource interface {
	ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]*db.Contest, error)
}

// Notifier delivers one message to one recipient and reports success.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, text, html string) bool
}

// Config configures a Scheduler.
type Config struct {
	Thresholds []int
	Tolerance  int
	Recipients []string
}

// Event is one threshold crossing found by Evaluate.
type Event struct {
	Key         Key
	Contest     *db.Contest
	MinutesLeft int
	// Delivered is true when at least one recipient accepted the message and
	// the key was marked fired.
	Delivered bool
}

// Scheduler evaluates upcoming contests against the notification thresholds.
type Scheduler struct {
	source     ContestSource
	fired      FiredSet
	notifier   Notifier
	logger     *zap.Logger
	thresholds []int
	tolerance  int
	recipients []string
}

// NewScheduler creates a Scheduler. Empty thresholds fall back to
// DefaultThresholds and a non-positive tolerance to DefaultTolerance.
func NewScheduler(source ContestSource, fired FiredSet, notifier Notifier, logger *zap.Logger, cfg Config) *Scheduler {
	thresholds := slices.Clone(cfg.Thresholds)
	if len(thresholds) == 0 {
		thresholds = slices.Clone(DefaultThresholds)
	}
	slices.Sort(thresholds)
	slices.Reverse(thresholds)
	thresholds = slices.Compact(thresholds)

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if len(cfg.Recipients) == 0 {
		logger.Warn("no notification recipients configured; delivery disabled")
	}

	return &Scheduler{
		source:     source,
		fired:      fired,
		notifier:   notifier,
		logger:     logger,
		thresholds: thresholds,
		tolerance:  tolerance,
		recipients: slices.Clone(cfg.Recipients),
	}
}

// Horizon is how far ahead Evaluate needs to look.
func (s *Scheduler) Horizon() time.Duration {
	return time.Duration(s.thresholds[0]+s.tolerance+1) * time.Minute
}

// MatchThresholds returns the thresholds t with |minutesLeft - t| <= tolerance.
func MatchThresholds(minutesLeft int, thresholds []int, tolerance int) []int {
	var matched []int
	for _, t := range thresholds {
		d := minutesLeft - t
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			matched = append(matched, t)
		}
	}
	return matched
}

// MinutesUntil rounds start-now to whole minutes.
func MinutesUntil(now, start time.Time) int {
	return int(math.Round(start.Sub(now).Minutes()))
}

// Evaluate sends every notification that is due at now and has not fired yet.
// Store and fired-set failures are logged; the affected keys are retried on a
// later call while still inside their tolerance window.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) []Event {
	contests, err := s.source.ListUpcoming(ctx, now, s.Horizon())
	if err != nil {
		s.logger.Error("failed to list upcoming contests", zap.Error(err))
		return nil
	}

	var events []Event
	for _, c := range contests {
		left := MinutesUntil(now, c.StartTime)
		for _, t := range MatchThresholds(left, s.thresholds, s.tolerance) {
			key := Key{Slug: c.Slug, Threshold: t}

			seen, err := s.fired.Seen(ctx, key)
			if err != nil {
				s.logger.Error("fired set lookup failed",
					zap.String("key", key.String()),
					zap.Error(err),
				)
				continue
			}
			if seen {
				metrics.RecordNotificationDeduped()
				continue
			}

			ev := Event{Key: key, Contest: c, MinutesLeft: left}
			ev.Delivered = s.deliver(ctx, key, c)
			events = append(events, ev)
		}
	}

	return events
}

func (s *Scheduler) deliver(ctx context.Context, key Key, c *db.Contest) bool {
	if len(s.recipients) == 0 {
		return false
	}

	msg := Render(c, key.Threshold)
	accepted := 0
	for _, r := range s.recipients {
		if s.notifier.Notify(ctx, r, msg.Subject, msg.Text, msg.HTML) {
			accepted++
		}
	}

	if accepted == 0 {
		s.logger.Warn("notification not delivered to any recipient; will retry",
			zap.String("slug", c.Slug),
			zap.Int("threshold_minutes", key.Threshold),
		)
		return false
	}

	if err := s.fired.Mark(ctx, key, c.StartTime); err != nil {
		s.logger.Error("failed to mark notification fired",
			zap.String("key", key.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("contest notification sent",
		zap.String("slug", c.Slug),
		zap.String("platform", string(c.Platform)),
		zap.Int("threshold_minutes", key.Threshold),
		zap.Int("recipients", accepted),
	)
	return true
}
