package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

const codeforcesBaseURL = "https://codeforces.com"

// CodeforcesLimit is the documented API call rate: one request per two seconds.
var CodeforcesLimit = rate.Every(2 * time.Second)

type codeforcesContest struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Phase            string `json:"phase"`
	DurationSeconds  int64  `json:"durationSeconds"`
	StartTimeSeconds *int64 `json:"startTimeSeconds"`
}

type codeforcesResponse struct {
	Status  string              `json:"status"`
	Comment string              `json:"comment"`
	Result  []codeforcesContest `json:"result"`
}

// Codeforces reads the public contest.list REST endpoint. Calls are held to
// CodeforcesLimit on top of any limiter the shared client carries.
type Codeforces struct {
	client  *Client
	opts    Options
	limiter *rate.Limiter
}

// NewCodeforces creates the Codeforces adapter.
func NewCodeforces(client *Client, opts Options) *Codeforces {
	return &Codeforces{
		client:  client,
		opts:    opts.withDefaults(codeforcesBaseURL),
		limiter: rate.NewLimiter(CodeforcesLimit, 1),
	}
}

func (a *Codeforces) Platform() contest.Platform { return contest.PlatformCodeforces }

// Fetch returns upcoming Codeforces contests within the window, slugged cf-{id}.
func (a *Codeforces) Fetch(ctx context.Context) ([]contest.Canonical, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: codeforces rate limiter: %v", ErrUpstream, err)
	}

	var resp codeforcesResponse
	if err := a.client.GetJSON(ctx, a.opts.BaseURL+"/api/contest.list?gym=false", &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("%w: codeforces status %q: %s", ErrUpstream, resp.Status, resp.Comment)
	}

	records := make([]contest.Canonical, 0, len(resp.Result))
	for _, c := range resp.Result {
		if c.StartTimeSeconds == nil {
			continue
		}
		start := time.Unix(*c.StartTimeSeconds, 0).UTC()
		records = append(records, contest.Canonical{
			Platform:  contest.PlatformCodeforces,
			Name:      strings.TrimSpace(c.Name),
			Slug:      fmt.Sprintf("cf-%d", c.ID),
			StartTime: start,
			EndTime:   start.Add(time.Duration(c.DurationSeconds) * time.Second),
			URL:       fmt.Sprintf("%s/contests/%d", a.opts.BaseURL, c.ID),
		})
	}

	return keep(a.opts.Now(), a.opts.Window, records), nil
}
