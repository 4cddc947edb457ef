package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

const codechefBaseURL = "https://www.codechef.com"

// Layouts accepted for CodeChef ISO dates, most specific first.
var codechefLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

type codechefContest struct {
	Code     string `json:"contest_code"`
	Name     string `json:"contest_name"`
	StartISO string `json:"contest_start_date_iso"`
	EndISO   string `json:"contest_end_date_iso"`
}

type codechefResponse struct {
	Status         string            `json:"status"`
	FutureContests []codechefContest `json:"future_contests"`
}

// CodeChef reads the contest listing and keeps only the future partition.
type CodeChef struct {
	client *Client
	opts   Options
}

// NewCodeChef creates the CodeChef adapter.
func NewCodeChef(client *Client, opts Options) *CodeChef {
	return &CodeChef{client: client, opts: opts.withDefaults(codechefBaseURL)}
}

func (a *CodeChef) Platform() contest.Platform { return contest.PlatformCodeChef }

// Fetch returns future CodeChef contests within the window, slugged cc-{code}.
// Entries with missing or unparseable dates are dropped.
func (a *CodeChef) Fetch(ctx context.Context) ([]contest.Canonical, error) {
	var resp codechefResponse
	url := a.opts.BaseURL + "/api/list/contests/all?sort_by=START&sorting_order=asc&offset=0&mode=all"
	if err := a.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("%w: codechef status %q", ErrUpstream, resp.Status)
	}

	records := make([]contest.Canonical, 0, len(resp.FutureContests))
	for _, c := range resp.FutureContests {
		start, ok := parseCodeChefTime(c.StartISO)
		if !ok {
			continue
		}
		end, ok := parseCodeChefTime(c.EndISO)
		if !ok {
			continue
		}
		code := strings.TrimSpace(c.Code)
		if code == "" {
			continue
		}
		records = append(records, contest.Canonical{
			Platform:  contest.PlatformCodeChef,
			Name:      strings.TrimSpace(c.Name),
			Slug:      "cc-" + code,
			StartTime: start,
			EndTime:   end,
			URL:       a.opts.BaseURL + "/" + code,
		})
	}

	return keep(a.opts.Now(), a.opts.Window, records), nil
}

func parseCodeChefTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range codechefLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
