package db

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Contest is a stored contest row. Slug is unique for all time.
type Contest struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Platform  contest.Platform `json:"platform"`
	Slug      string           `json:"slug"`
	StartTime time.Time        `json:"startTime"`
	EndTime   time.Time        `json:"endTime"`
	Status    contest.Status   `json:"status"`
	URL       string           `json:"url"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ContestFromCanonical builds the row to upsert for a canonical record.
func ContestFromCanonical(c contest.Canonical, now time.Time) *Contest {
	return &Contest{
		ID:        uuid.New(),
		Name:      c.Name,
		Platform:  c.Platform,
		Slug:      c.Slug,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		Status:    contest.StatusAt(now, c.StartTime, c.EndTime),
		URL:       c.URL,
	}
}

// ContestFilter narrows ListContests. Zero values mean "no filter";
// Limit <= 0 means unlimited.
type ContestFilter struct {
	Platform   contest.Platform
	Status     contest.Status
	Descending bool
	Limit      int
}

// Reminder is a per-user request to be notified before a contest.
type Reminder struct {
	ID           uuid.UUID  `json:"id"`
	UserRef      string     `json:"user_ref"`
	Recipient    string     `json:"recipient"`
	ContestID    uuid.UUID  `json:"contest_id"`
	ReminderTime time.Time  `json:"reminder_time"`
	Sent         bool       `json:"sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DueReminder pairs a pending reminder with the contest it refers to.
type DueReminder struct {
	Reminder Reminder
	Contest  Contest
}
