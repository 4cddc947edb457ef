package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/contest"
	"github.com/lalithlochan/contestpulse/internal/db"
)

type staticSource struct {
	contests []*db.Contest
	err      error
}

func (s *staticSource) ListUpcoming(_ context.Context, now time.Time, horizon time.Duration) ([]*db.Contest, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*db.Contest
	for _, c := range s.contests {
		if c.StartTime.After(now) && !c.StartTime.After(now.Add(horizon)) {
			out = append(out, c)
		}
	}
	return out, nil
}

type sent struct {
	recipient string
	subject   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]bool
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, subject, _, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[recipient] {
		return false
	}
	n.sent = append(n.sent, sent{recipient: recipient, subject: subject})
	return true
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func weekly(start time.Time) *db.Contest {
	return &db.Contest{
		Name:      "Weekly Contest 400",
		Platform:  contest.PlatformLeetCode,
		Slug:      "weekly-contest-400",
		StartTime: start,
		EndTime:   start.Add(90 * time.Minute),
		Status:    contest.StatusUpcoming,
		URL:       "https://leetcode.com/contest/weekly-contest-400",
	}
}

func TestMatchThresholds(t *testing.T) {
	tests := []struct {
		name string
		left int
		want []int
	}{
		{"exact", 60, []int{60}},
		{"within tolerance above", 65, []int{60}},
		{"within tolerance below", 55, []int{60}},
		{"outside", 66, nil},
		{"six hours", 358, []int{360}},
		{"between thresholds", 90, nil},
		{"last threshold", 12, []int{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchThresholds(tt.left, DefaultThresholds, DefaultTolerance)
			if len(got) != len(tt.want) {
				t.Fatalf("MatchThresholds(%d) = %v, want %v", tt.left, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("MatchThresholds(%d) = %v, want %v", tt.left, got, tt.want)
				}
			}
		})
	}
}

func TestMinutesUntil_Rounds(t *testing.T) {
	if got := MinutesUntil(t0, t0.Add(60*time.Minute+29*time.Second)); got != 60 {
		t.Errorf("MinutesUntil = %d, want 60", got)
	}
	if got := MinutesUntil(t0, t0.Add(60*time.Minute+31*time.Second)); got != 61 {
		t.Errorf("MinutesUntil = %d, want 61", got)
	}
}

func TestEvaluate_FiresOncePerThreshold(t *testing.T) {
	c := weekly(t0.Add(61 * time.Minute))
	notifier := &recordingNotifier{}
	fired := NewMemoryFiredSet()
	s := NewScheduler(&staticSource{contests: []*db.Contest{c}}, fired, notifier, zap.NewNop(),
		Config{Recipients: []string{"email:dev@example.com"}})

	events := s.Evaluate(context.Background(), t0)
	if len(events) != 1 {
		t.Fatalf("first poll events = %d, want 1", len(events))
	}
	if events[0].Key != (Key{Slug: c.Slug, Threshold: 60}) || !events[0].Delivered {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].MinutesLeft != 61 {
		t.Errorf("MinutesLeft = %d, want 61", events[0].MinutesLeft)
	}

	// One minute later: 60 minutes left, still inside the window.
	events = s.Evaluate(context.Background(), t0.Add(time.Minute))
	if len(events) != 0 {
		t.Errorf("second poll events = %d, want 0", len(events))
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifications sent = %d, want 1", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0].subject, "starts in 1 hour") {
		t.Errorf("subject = %q", notifier.sent[0].subject)
	}
}

func TestEvaluate_WalksAllThresholds(t *testing.T) {
	start := t0.Add(7 * time.Hour)
	notifier := &recordingNotifier{}
	s := NewScheduler(&staticSource{contests: []*db.Contest{weekly(start)}}, NewMemoryFiredSet(), notifier, zap.NewNop(),
		Config{Recipients: []string{"a@example.com"}})

	counts := map[int]int{}
	for now := t0; now.Before(start); now = now.Add(time.Minute) {
		for _, ev := range s.Evaluate(context.Background(), now) {
			counts[ev.Key.Threshold]++
		}
	}

	for _, th := range DefaultThresholds {
		if counts[th] != 1 {
			t.Errorf("threshold %d fired %d times, want 1", th, counts[th])
		}
	}
	if len(notifier.sent) != len(DefaultThresholds) {
		t.Errorf("sent = %d, want %d", len(notifier.sent), len(DefaultThresholds))
	}
}

func TestEvaluate_FailedSendRetriesLater(t *testing.T) {
	c := weekly(t0.Add(63 * time.Minute))
	notifier := &recordingNotifier{fail: map[string]bool{"a@example.com": true}}
	fired := NewMemoryFiredSet()
	s := NewScheduler(&staticSource{contests: []*db.Contest{c}}, fired, notifier, zap.NewNop(),
		Config{Recipients: []string{"a@example.com"}})

	events := s.Evaluate(context.Background(), t0)
	if len(events) != 1 || events[0].Delivered {
		t.Fatalf("events = %+v, want one undelivered", events)
	}
	if seen, _ := fired.Seen(context.Background(), events[0].Key); seen {
		t.Fatal("failed key was marked fired")
	}

	notifier.fail = nil
	events = s.Evaluate(context.Background(), t0.Add(time.Minute))
	if len(events) != 1 || !events[0].Delivered {
		t.Fatalf("retry events = %+v, want one delivered", events)
	}
}

func TestEvaluate_PartialRecipientFailureStillFires(t *testing.T) {
	c := weekly(t0.Add(30 * time.Minute))
	notifier := &recordingNotifier{fail: map[string]bool{"bad@example.com": true}}
	s := NewScheduler(&staticSource{contests: []*db.Contest{c}}, NewMemoryFiredSet(), notifier, zap.NewNop(),
		Config{Recipients: []string{"bad@example.com", "good@example.com"}})

	events := s.Evaluate(context.Background(), t0)
	if len(events) != 1 || !events[0].Delivered {
		t.Fatalf("events = %+v, want one delivered", events)
	}
	if len(s.Evaluate(context.Background(), t0.Add(time.Minute))) != 0 {
		t.Error("key fired again after partial success")
	}
}

func TestEvaluate_NoRecipients(t *testing.T) {
	c := weekly(t0.Add(15 * time.Minute))
	notifier := &recordingNotifier{}
	fired := NewMemoryFiredSet()
	s := NewScheduler(&staticSource{contests: []*db.Contest{c}}, fired, notifier, zap.NewNop(), Config{})

	events := s.Evaluate(context.Background(), t0)
	if len(events) != 1 || events[0].Delivered {
		t.Fatalf("events = %+v, want one undelivered", events)
	}
	if len(notifier.sent) != 0 {
		t.Error("notifier called with no recipients")
	}
	if fired.Len() != 0 {
		t.Error("key marked fired with delivery disabled")
	}
}

func TestEvaluate_SourceError(t *testing.T) {
	s := NewScheduler(&staticSource{err: errors.New("db down")}, NewMemoryFiredSet(), &recordingNotifier{}, zap.NewNop(),
		Config{Recipients: []string{"a@example.com"}})
	if events := s.Evaluate(context.Background(), t0); events != nil {
		t.Errorf("events = %v, want nil", events)
	}
}

type brokenFiredSet struct{ MemoryFiredSet }

func (*brokenFiredSet) Seen(context.Context, Key) (bool, error) {
	return false, errors.New("redis down")
}

func TestEvaluate_FiredSetErrorSkipsSend(t *testing.T) {
	notifier := &recordingNotifier{}
	s := NewScheduler(&staticSource{contests: []*db.Contest{weekly(t0.Add(60 * time.Minute))}}, &brokenFiredSet{}, notifier, zap.NewNop(),
		Config{Recipients: []string{"a@example.com"}})

	s.Evaluate(context.Background(), t0)
	if len(notifier.sent) != 0 {
		t.Errorf("sent = %d, want 0 when fired set is unavailable", len(notifier.sent))
	}
}

func TestNewScheduler_NormalizesThresholds(t *testing.T) {
	s := NewScheduler(&staticSource{}, NewMemoryFiredSet(), &recordingNotifier{}, zap.NewNop(),
		Config{Thresholds: []int{15, 60, 15, 30}, Tolerance: -1})
	want := []int{60, 30, 15}
	if len(s.thresholds) != len(want) {
		t.Fatalf("thresholds = %v, want %v", s.thresholds, want)
	}
	for i := range want {
		if s.thresholds[i] != want[i] {
			t.Fatalf("thresholds = %v, want %v", s.thresholds, want)
		}
	}
	if s.tolerance != DefaultTolerance {
		t.Errorf("tolerance = %d, want %d", s.tolerance, DefaultTolerance)
	}
	if s.Horizon() != 66*time.Minute {
		t.Errorf("Horizon() = %v, want 66m", s.Horizon())
	}
}
