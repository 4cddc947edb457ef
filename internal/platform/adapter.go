// Package platform contains the upstream contest adapters. Each adapter talks to
// one platform, maps its payload to contest.Canonical and keeps only contests
// that start inside the look-ahead window.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

// DefaultWindow is how far ahead adapters look for upcoming contests.
const DefaultWindow = 14 * 24 * time.Hour

// ErrUpstream wraps every network, status or payload failure of an adapter.
var ErrUpstream = errors.New("upstream fetch failed")

// Adapter fetches canonical contests from one platform.
// On failure it returns an empty slice and an error wrapping ErrUpstream;
// adapters never retry, the next scheduled pass does.
type Adapter interface {
	Platform() contest.Platform
	Fetch(ctx context.Context) ([]contest.Canonical, error)
}

// Options configures the parts of an adapter that differ between
// production and tests.
type Options struct {
	BaseURL string
	Window  time.Duration
	Now     func() time.Time
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// InWindow reports whether a contest starting at start is strictly in the
// future and no later than now+window.
func InWindow(now, start time.Time, window time.Duration) bool {
	return start.After(now) && !start.After(now.Add(window))
}

// keep drops malformed records and records outside the window.
func keep(now time.Time, window time.Duration, records []contest.Canonical) []contest.Canonical {
	out := make([]contest.Canonical, 0, len(records))
	for _, c := range records {
		if c.Validate() != nil {
			continue
		}
		if !InWindow(now, c.StartTime, window) {
			continue
		}
		out = append(out, c)
	}
	return out
}
