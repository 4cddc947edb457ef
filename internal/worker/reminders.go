package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/metrics"
	"github.com/lalithlochan/contestpulse/internal/notify"
)

// ReminderStore is the persistence the reminder worker needs.
type ReminderStore interface {
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*db.DueReminder, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
}

// ReminderConfig configures a ReminderWorker.
type ReminderConfig struct {
	BatchSize int
}

// ReminderWorker delivers per-user reminders whose time has come.
type ReminderWorker struct {
	store    ReminderStore
	notifier *Notifier
	config   ReminderConfig
	logger   *zap.Logger
}

// NewReminderWorker creates a ReminderWorker.
func NewReminderWorker(store ReminderStore, notifier *Notifier, cfg ReminderConfig, logger *zap.Logger) *ReminderWorker {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &ReminderWorker{
		store:    store,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// RunOnce sends every reminder due at now and returns how many were sent.
// A reminder whose send fails stays pending and is retried on the next run
// while its contest has not started.
func (w *ReminderWorker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := w.store.ListDueReminders(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for _, d := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if w.process(ctx, d, now) {
			sent++
		}
	}

	if len(due) > 0 {
		w.logger.Info("reminder batch processed",
			zap.Int("due", len(due)),
			zap.Int("sent", sent),
		)
	}

	return sent, nil
}

func (w *ReminderWorker) process(ctx context.Context, d *db.DueReminder, now time.Time) bool {
	// Guard against a contest that started between query and send.
	if !d.Contest.StartTime.After(now) {
		return false
	}

	lead := notify.MinutesUntil(now, d.Contest.StartTime)
	msg := notify.Render(&d.Contest, lead)

	if !w.notifier.NotifyKey(ctx, d.Reminder.ID.String(), d.Reminder.Recipient, msg.Subject, msg.Text, msg.HTML) {
		return false
	}

	marked, err := w.store.MarkReminderSent(ctx, d.Reminder.ID, now)
	if err != nil {
		w.logger.Error("reminder sent but not marked; it may be resent",
			zap.String("reminder_id", d.Reminder.ID.String()),
			zap.Error(err),
		)
		return true
	}
	if !marked {
		w.logger.Warn("reminder was already marked sent",
			zap.String("reminder_id", d.Reminder.ID.String()),
		)
	}

	metrics.RecordReminderSent()
	w.logger.Info("reminder sent",
		zap.String("reminder_id", d.Reminder.ID.String()),
		zap.String("user_ref", d.Reminder.UserRef),
		zap.String("slug", d.Contest.Slug),
		zap.Int("minutes_left", lead),
	)
	return true
}
