//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/contest"
)

var testRepo *Repository

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("contestpulse"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		panic(err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}

	if err := RunMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}

	database, err := New(ctx, Config{URL: connStr}, zap.NewNop())
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}
	testRepo = NewRepository(database, zap.NewNop())

	code := m.Run()

	database.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func upsert(t *testing.T, c contest.Canonical, now time.Time) (*Contest, bool) {
	t.Helper()
	row := ContestFromCanonical(c, now)
	inserted, err := testRepo.UpsertContest(context.Background(), row)
	if err != nil {
		t.Fatalf("UpsertContest(%s) error: %v", c.Slug, err)
	}
	return row, inserted
}

func TestUpsertContest_IdempotentBySlug(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	c := contest.Canonical{
		Platform:  contest.PlatformLeetCode,
		Name:      "Weekly Contest 400",
		Slug:      "weekly-contest-400-" + uuid.NewString(),
		StartTime: now.Add(2 * time.Hour),
		EndTime:   now.Add(3*time.Hour + 30*time.Minute),
		URL:       "https://leetcode.com/contest/weekly-contest-400",
	}

	first, inserted := upsert(t, c, now)
	if !inserted {
		t.Error("first upsert should insert")
	}
	second, inserted := upsert(t, c, now)
	if inserted {
		t.Error("second upsert should update")
	}
	if first.ID != second.ID {
		t.Errorf("IDs differ: %s vs %s", first.ID, second.ID)
	}

	c.Name = "Weekly Contest 400 (rescheduled)"
	c.StartTime = now.Add(4 * time.Hour)
	c.EndTime = now.Add(5 * time.Hour)
	upsert(t, c, now)

	got, err := testRepo.GetContestBySlug(ctx, c.Slug)
	if err != nil {
		t.Fatalf("GetContestBySlug() error: %v", err)
	}
	if got.Name != c.Name {
		t.Errorf("Name = %q, want %q", got.Name, c.Name)
	}
	if !got.StartTime.Equal(c.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, c.StartTime)
	}
	if got.Status != contest.StatusUpcoming {
		t.Errorf("Status = %q, want upcoming", got.Status)
	}
}

func TestUpsertContest_ConcurrentSameSlug(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	slug := "cf-" + uuid.NewString()

	const writers = 8
	var wg sync.WaitGroup
	inserted := make([]bool, writers)
	errs := make([]error, writers)
	names := make(map[string]bool, writers)

	for i := 0; i < writers; i++ {
		name := fmt.Sprintf("Codeforces Round %d", i)
		names[name] = true
		row := ContestFromCanonical(contest.Canonical{
			Platform:  contest.PlatformCodeforces,
			Name:      name,
			Slug:      slug,
			StartTime: now.Add(time.Hour),
			EndTime:   now.Add(3 * time.Hour),
			URL:       "https://codeforces.com/contests/1",
		}, now)

		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted[i], errs[i] = testRepo.UpsertContest(ctx, row)
		}()
	}
	wg.Wait()

	inserts := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("writer %d: %v", i, errs[i])
		}
		if inserted[i] {
			inserts++
		}
	}
	if inserts != 1 {
		t.Errorf("inserted reported %d times, want exactly 1", inserts)
	}

	var rows int
	if err := testRepo.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM contests WHERE slug = $1`, slug).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("rows for slug = %d, want 1", rows)
	}

	got, err := testRepo.GetContestBySlug(ctx, slug)
	if err != nil {
		t.Fatalf("GetContestBySlug() error: %v", err)
	}
	if !names[got.Name] {
		t.Errorf("stored name %q came from no writer", got.Name)
	}
}

func TestGetContestBySlug_NotFound(t *testing.T) {
	_, err := testRepo.GetContestBySlug(context.Background(), "missing-"+uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSweepAndRefreshStatuses(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-48 * time.Hour)

	// Stored while upcoming, then the clock moves past start and end.
	ended, _ := upsert(t, contest.Canonical{
		Platform:  contest.PlatformCodeforces,
		Name:      "Codeforces Round (Div. 2)",
		Slug:      "cf-" + uuid.NewString(),
		StartTime: now.Add(-3 * time.Hour),
		EndTime:   now.Add(-1 * time.Hour),
	}, past)
	started, _ := upsert(t, contest.Canonical{
		Platform:  contest.PlatformCodeforces,
		Name:      "Codeforces Round (Div. 3)",
		Slug:      "cf-" + uuid.NewString(),
		StartTime: now.Add(-30 * time.Minute),
		EndTime:   now.Add(90 * time.Minute),
	}, past)

	if _, err := testRepo.SweepFinished(ctx, now); err != nil {
		t.Fatalf("SweepFinished() error: %v", err)
	}
	if _, err := testRepo.RefreshStatuses(ctx, now); err != nil {
		t.Fatalf("RefreshStatuses() error: %v", err)
	}

	got, err := testRepo.GetContest(ctx, ended.ID)
	if err != nil {
		t.Fatalf("GetContest() error: %v", err)
	}
	if got.Status != contest.StatusFinished {
		t.Errorf("ended contest status = %q, want finished", got.Status)
	}

	got, err = testRepo.GetContest(ctx, started.ID)
	if err != nil {
		t.Fatalf("GetContest() error: %v", err)
	}
	if got.Status != contest.StatusRunning {
		t.Errorf("started contest status = %q, want running", got.Status)
	}

	n, err := testRepo.SweepFinished(ctx, now)
	if err != nil {
		t.Fatalf("SweepFinished() error: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep touched %d rows, want 0", n)
	}
}

func TestReminders_MarkSentOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	c, _ := upsert(t, contest.Canonical{
		Platform:  contest.PlatformCodeChef,
		Name:      "Starters 140",
		Slug:      "cc-" + uuid.NewString(),
		StartTime: now.Add(1 * time.Hour),
		EndTime:   now.Add(3 * time.Hour),
	}, now)

	rem := &Reminder{
		ID:           uuid.New(),
		UserRef:      "user-1",
		Recipient:    "email:dev@example.com",
		ContestID:    c.ID,
		ReminderTime: now.Add(-time.Minute),
	}
	if err := testRepo.CreateReminder(ctx, rem); err != nil {
		t.Fatalf("CreateReminder() error: %v", err)
	}

	due, err := testRepo.ListDueReminders(ctx, now, 100)
	if err != nil {
		t.Fatalf("ListDueReminders() error: %v", err)
	}
	found := false
	for _, d := range due {
		if d.Reminder.ID == rem.ID {
			found = true
			if d.Contest.Slug != c.Slug {
				t.Errorf("joined contest slug = %q, want %q", d.Contest.Slug, c.Slug)
			}
		}
	}
	if !found {
		t.Fatal("reminder not listed as due")
	}

	ok, err := testRepo.MarkReminderSent(ctx, rem.ID, now)
	if err != nil || !ok {
		t.Fatalf("MarkReminderSent() = %v, %v; want true, nil", ok, err)
	}
	ok, err = testRepo.MarkReminderSent(ctx, rem.ID, now)
	if err != nil || ok {
		t.Fatalf("second MarkReminderSent() = %v, %v; want false, nil", ok, err)
	}

	// Past contest start the reminder is never due even if unsent.
	due, err = testRepo.ListDueReminders(ctx, c.StartTime.Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("ListDueReminders() error: %v", err)
	}
	for _, d := range due {
		if d.Contest.ID == c.ID {
			t.Error("reminder for started contest listed as due")
		}
	}
}
