// Package reconciler merges freshly fetched contests into the store and
// sweeps stale statuses once a batch has been written.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/contestpulse/internal/contest"
	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/metrics"
)

// DefaultConcurrency bounds in-flight upserts per pass.
const DefaultConcurrency = 8

var (
	// ErrBatchFailed is returned when every record of a non-empty batch failed.
	ErrBatchFailed = errors.New("reconcile: every upsert failed")
	// ErrSweepFailed wraps a failure of the post-upsert status sweep.
	ErrSweepFailed = errors.New("reconcile: status sweep failed")
)

// Store is the persistence the reconciler needs. *db.Repository satisfies it.
type Store interface {
	UpsertContest(ctx context.Context, c *db.Contest) (bool, error)
	SweepFinished(ctx context.Context, now time.Time) (int64, error)
	RefreshStatuses(ctx context.Context, now time.Time) (int64, error)
}

// Outcome is the per-record result of a pass.
type Outcome struct {
	Slug     string
	Inserted bool
	Err      error
}

// Report summarizes one reconcile pass.
type Report struct {
	Upserted int
	Inserted int
	Failed   int
	Invalid  int
	// Duplicates counts records dropped because a later record in the same
	// batch carried the same slug.
	Duplicates int
	Swept      int64
	Started    int64
	Outcomes   []Outcome

	sweepErr error
}

// Err returns nil for a pass where at least one record was stored (or there
// were none) and the sweep ran. Per-record failures stay in Outcomes.
func (r Report) Err() error {
	if r.sweepErr != nil {
		return fmt.Errorf("%w: %w", ErrSweepFailed, r.sweepErr)
	}
	if len(r.Outcomes) > 0 && r.Failed == len(r.Outcomes) {
		return ErrBatchFailed
	}
	return nil
}

// Reconciler upserts a batch of canonical contests and then recomputes the
// status of everything stored.
type Reconciler struct {
	store       Store
	logger      *zap.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithConcurrency sets the upsert fan-out bound.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Reconciler.
func New(store Store, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		logger:      logger,
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile stores records and sweeps finished contests. A single clock
// reading is used for the whole pass so status assignment and the sweep agree.
func (r *Reconciler) Reconcile(ctx context.Context, records []contest.Canonical) Report {
	now := r.now().UTC()
	batch := dedupeBySlug(records)
	outcomes := make([]Outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, rec := range batch {
		outcomes[i].Slug = rec.Slug

		if err := rec.Validate(); err != nil {
			outcomes[i].Err = err
			continue
		}

		g.Go(func() error {
			row := db.ContestFromCanonical(rec, now)
			inserted, err := r.store.UpsertContest(gctx, row)
			outcomes[i].Inserted = inserted
			outcomes[i].Err = err
			// Never fail the group: one bad record must not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Outcomes: outcomes, Duplicates: len(records) - len(batch)}
	for _, o := range outcomes {
		switch {
		case errors.Is(o.Err, contest.ErrInvalidContest):
			report.Invalid++
			report.Failed++
			metrics.RecordUpsert("invalid")
			r.logger.Warn("skipping invalid contest",
				zap.String("slug", o.Slug),
				zap.Error(o.Err),
			)
		case o.Err != nil:
			report.Failed++
			metrics.RecordUpsert("error")
			r.logger.Error("contest upsert failed",
				zap.String("slug", o.Slug),
				zap.Error(o.Err),
			)
		default:
			report.Upserted++
			if o.Inserted {
				report.Inserted++
			}
			metrics.RecordUpsert("ok")
		}
	}

	swept, err := r.store.SweepFinished(ctx, now)
	if err != nil {
		report.sweepErr = err
		r.logger.Error("sweep finished contests failed", zap.Error(err))
		return report
	}
	report.Swept = swept
	metrics.RecordSwept(swept)

	started, err := r.store.RefreshStatuses(ctx, now)
	if err != nil {
		report.sweepErr = err
		r.logger.Error("refresh running contests failed", zap.Error(err))
		return report
	}
	report.Started = started

	r.logger.Info("reconcile pass complete",
		zap.Int("records", len(records)),
		zap.Int("upserted", report.Upserted),
		zap.Int("inserted", report.Inserted),
		zap.Int("failed", report.Failed),
		zap.Int("invalid", report.Invalid),
		zap.Int("duplicates", report.Duplicates),
		zap.Int64("swept", report.Swept),
		zap.Int64("started", report.Started),
	)

	return report
}

// dedupeBySlug keeps the last record for each slug, in last-occurrence
// order, so two upserts of one slug never race within a pass.
func dedupeBySlug(records []contest.Canonical) []contest.Canonical {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.Slug] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]contest.Canonical, 0, len(last))
	for i, rec := range records {
		if last[rec.Slug] == i {
			out = append(out, rec)
		}
	}
	return out
}
