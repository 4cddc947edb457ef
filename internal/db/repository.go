package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

// Repository handles database operations for contests and reminders
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const contestColumns = `id, name, platform, slug, start_time, end_time, status, url, created_at, updated_at`

func scanContest(row pgx.Row, c *Contest) error {
	return row.Scan(
		&c.ID,
		&c.Name,
		&c.Platform,
		&c.Slug,
		&c.StartTime,
		&c.EndTime,
		&c.Status,
		&c.URL,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

// UpsertContest inserts the contest or, when the slug already exists,
// overwrites its mutable fields. The unique slug constraint makes concurrent
// upserts of one slug converge on a single row. On return c carries the
// stored id and timestamps; inserted reports whether a new row was created.
func (r *Repository) UpsertContest(ctx context.Context, c *Contest) (bool, error) {
	query := `
		INSERT INTO contests (
			id, name, platform, slug, start_time, end_time, status, url
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			platform = EXCLUDED.platform,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			url = EXCLUDED.url,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.Pool().QueryRow(
		ctx,
		query,
		c.ID,
		c.Name,
		c.Platform,
		c.Slug,
		c.StartTime,
		c.EndTime,
		c.Status,
		c.URL,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &inserted)

	if err != nil {
		r.logger.Error("failed to upsert contest",
			zap.Error(err),
			zap.String("slug", c.Slug),
		)
		return false, fmt.Errorf("upsert contest %s: %w", c.Slug, err)
	}

	return inserted, nil
}

// GetContestBySlug retrieves a contest by its unique slug
func (r *Repository) GetContestBySlug(ctx context.Context, slug string) (*Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE slug = $1`

	var c Contest
	err := scanContest(r.db.Pool().QueryRow(ctx, query, slug), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contest %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query contest: %w", err)
	}

	return &c, nil
}

// GetContest retrieves a contest by ID
func (r *Repository) GetContest(ctx context.Context, id uuid.UUID) (*Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE id = $1`

	var c Contest
	err := scanContest(r.db.Pool().QueryRow(ctx, query, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query contest: %w", err)
	}

	return &c, nil
}

// SweepFinished marks every contest that has ended as finished.
func (r *Repository) SweepFinished(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE contests
		SET status = $1, updated_at = NOW()
		WHERE end_time < $2 AND status <> $1
	`

	result, err := r.db.Pool().Exec(ctx, query, contest.StatusFinished, now)
	if err != nil {
		return 0, fmt.Errorf("sweep finished contests: %w", err)
	}

	return result.RowsAffected(), nil
}

// RefreshStatuses moves upcoming contests whose start has passed to running.
func (r *Repository) RefreshStatuses(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE contests
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND start_time <= $3 AND end_time > $3
	`

	result, err := r.db.Pool().Exec(ctx, query, contest.StatusRunning, contest.StatusUpcoming, now)
	if err != nil {
		return 0, fmt.Errorf("refresh contest statuses: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListContests returns contests matching the filter ordered by start time.
func (r *Repository) ListContests(ctx context.Context, f ContestFilter) ([]*Contest, error) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		args = append(args, f.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + contestColumns + ` FROM contests`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if f.Descending {
		sb.WriteString(" ORDER BY start_time DESC, slug DESC")
	} else {
		sb.WriteString(" ORDER BY start_time ASC, slug ASC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := r.db.Pool().Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query contests: %w", err)
	}
	defer rows.Close()

	return collectContests(rows)
}

// ListUpcoming returns contests starting in (now, now+horizon].
func (r *Repository) ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]*Contest, error) {
	query := `
		SELECT ` + contestColumns + `
		FROM contests
		WHERE start_time > $1 AND start_time <= $2
		ORDER BY start_time ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now, now.Add(horizon))
	if err != nil {
		return nil, fmt.Errorf("query upcoming contests: %w", err)
	}
	defer rows.Close()

	return collectContests(rows)
}

func collectContests(rows pgx.Rows) ([]*Contest, error) {
	var contests []*Contest
	for rows.Next() {
		var c Contest
		if err := scanContest(rows, &c); err != nil {
			return nil, fmt.Errorf("scan contest: %w", err)
		}
		contests = append(contests, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return contests, nil
}

// CreateReminder inserts a new reminder
func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder) error {
	query := `
		INSERT INTO reminders (
			id, user_ref, recipient, contest_id, reminder_time, sent
		) VALUES (
			$1, $2, $3, $4, $5, FALSE
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rem.ID,
		rem.UserRef,
		rem.Recipient,
		rem.ContestID,
		rem.ReminderTime,
	).Scan(&rem.CreatedAt, &rem.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return fmt.Errorf("insert reminder: %w", err)
	}

	r.logger.Info("reminder created",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("contest_id", rem.ContestID.String()),
		zap.Time("reminder_time", rem.ReminderTime),
	)

	return nil
}

// ListDueReminders returns unsent reminders whose time has come and whose
// contest has not started yet.
func (r *Repository) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*DueReminder, error) {
	query := `
		SELECT
			r.id, r.user_ref, r.recipient, r.contest_id, r.reminder_time,
			r.sent, r.sent_at, r.created_at, r.updated_at,
			c.id, c.name, c.platform, c.slug, c.start_time, c.end_time,
			c.status, c.url, c.created_at, c.updated_at
		FROM reminders r
		JOIN contests c ON c.id = r.contest_id
		WHERE r.sent = FALSE AND r.reminder_time <= $1 AND c.start_time > $1
		ORDER BY r.reminder_time ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var due []*DueReminder
	for rows.Next() {
		var d DueReminder
		err := rows.Scan(
			&d.Reminder.ID,
			&d.Reminder.UserRef,
			&d.Reminder.Recipient,
			&d.Reminder.ContestID,
			&d.Reminder.ReminderTime,
			&d.Reminder.Sent,
			&d.Reminder.SentAt,
			&d.Reminder.CreatedAt,
			&d.Reminder.UpdatedAt,
			&d.Contest.ID,
			&d.Contest.Name,
			&d.Contest.Platform,
			&d.Contest.Slug,
			&d.Contest.StartTime,
			&d.Contest.EndTime,
			&d.Contest.Status,
			&d.Contest.URL,
			&d.Contest.CreatedAt,
			&d.Contest.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due reminder: %w", err)
		}
		due = append(due, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// MarkReminderSent flips sent to true. It only succeeds once per reminder;
// a second call reports false.
func (r *Repository) MarkReminderSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	query := `
		UPDATE reminders
		SET sent = TRUE, sent_at = $1, updated_at = NOW()
		WHERE id = $2 AND sent = FALSE
	`

	result, err := r.db.Pool().Exec(ctx, query, sentAt, id)
	if err != nil {
		r.logger.Error("failed to mark reminder sent",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}

	return result.RowsAffected() == 1, nil
}
