package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

const leetCodeBaseURL = "https://leetcode.com"

const allContestsQuery = `query {
  allContests {
    title
    titleSlug
    startTime
    duration
  }
}`

type leetCodeContest struct {
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

type leetCodeResponse struct {
	Data struct {
		AllContests []leetCodeContest `json:"allContests"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// LeetCode queries the GraphQL endpoint for all contests.
type LeetCode struct {
	client *Client
	opts   Options
}

// NewLeetCode creates the LeetCode adapter.
func NewLeetCode(client *Client, opts Options) *LeetCode {
	return &LeetCode{client: client, opts: opts.withDefaults(leetCodeBaseURL)}
}

func (a *LeetCode) Platform() contest.Platform { return contest.PlatformLeetCode }

// Fetch returns upcoming LeetCode contests within the window.
// The native titleSlug is used as the contest slug.
func (a *LeetCode) Fetch(ctx context.Context) ([]contest.Canonical, error) {
	var resp leetCodeResponse
	body := map[string]string{"query": allContestsQuery}
	if err := a.client.PostJSON(ctx, a.opts.BaseURL+"/graphql", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql: %s", ErrUpstream, resp.Errors[0].Message)
	}

	records := make([]contest.Canonical, 0, len(resp.Data.AllContests))
	for _, c := range resp.Data.AllContests {
		start := time.Unix(c.StartTime, 0).UTC()
		records = append(records, contest.Canonical{
			Platform:  contest.PlatformLeetCode,
			Name:      strings.TrimSpace(c.Title),
			Slug:      c.TitleSlug,
			StartTime: start,
			EndTime:   start.Add(time.Duration(c.Duration) * time.Second),
			URL:       a.opts.BaseURL + "/contest/" + c.TitleSlug,
		})
	}

	return keep(a.opts.Now(), a.opts.Window, records), nil
}
