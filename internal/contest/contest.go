// Package contest holds the platform-independent contest model shared by the
// adapters, the reconciler and the notification scheduler.
package contest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies an upstream contest source.
type Platform string

const (
	PlatformLeetCode   Platform = "LeetCode"
	PlatformCodeforces Platform = "Codeforces"
	PlatformCodeChef   Platform = "CodeChef"
)

// Platforms lists every supported platform in registration order.
var Platforms = []Platform{PlatformLeetCode, PlatformCodeforces, PlatformCodeChef}

// ParsePlatform matches a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// Status is the lifecycle state of a stored contest.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUpcoming, StatusRunning, StatusFinished:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// StatusAt derives the status of a contest at the given instant.
// It is a pure function of its arguments.
func StatusAt(now, start, end time.Time) Status {
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.Before(end):
		return StatusRunning
	default:
		return StatusFinished
	}
}

// ErrInvalidContest marks a canonical record that must not be stored.
var ErrInvalidContest = errors.New("invalid contest")

// Canonical is the normalized adapter output. It is never persisted as is;
// the reconciler turns it into a stored contest.
type Canonical struct {
	Platform  Platform  `json:"platform"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	URL       string    `json:"url"`
}

// Validate reports whether the record is well formed. A zero-length contest
// (EndTime == StartTime) is accepted.
func (c Canonical) Validate() error {
	if strings.TrimSpace(c.Slug) == "" {
		return fmt.Errorf("%w: empty slug", ErrInvalidContest)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: %s: empty name", ErrInvalidContest, c.Slug)
	}
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return fmt.Errorf("%w: %s: missing start or end time", ErrInvalidContest, c.Slug)
	}
	if c.EndTime.Before(c.StartTime) {
		return fmt.Errorf("%w: %s: ends before it starts", ErrInvalidContest, c.Slug)
	}
	return nil
}

// Duration returns the scheduled length of the contest.
func (c Canonical) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}
