// Package jobs drives the periodic work: a coarse aggregation pass and a
// fine notification pass, each on its own ticker.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/aggregator"
	"github.com/lalithlochan/contestpulse/internal/contest"
	"github.com/lalithlochan/contestpulse/internal/metrics"
	"github.com/lalithlochan/contestpulse/internal/notify"
	"github.com/lalithlochan/contestpulse/internal/reconciler"
)

// ErrPassRunning is returned by RefreshNow while a pass is in flight.
var ErrPassRunning = errors.New("aggregation pass already running")

const (
	DefaultAggregateInterval = 30 * time.Minute
	DefaultNotifyInterval    = time.Minute
)

type Aggregator interface {
	RunAll(ctx context.Context) aggregator.Report
}

type Reconciler interface {
	Reconcile(ctx context.Context, records []contest.Canonical) reconciler.Report
}

type Evaluator interface {
	Evaluate(ctx context.Context, now time.Time) []notify.Event
}

type ReminderRunner interface {
	RunOnce(ctx context.Context, now time.Time) (int, error)
}

type Evictor interface {
	Evict(ctx context.Context, now time.Time) (int, error)
}

// Config holds the ticker periods. Zero values take the defaults.
type Config struct {
	AggregateInterval time.Duration
	NotifyInterval    time.Duration
	// PassTimeout bounds one aggregation pass; zero means the interval.
	PassTimeout time.Duration
}

// PassReport is the combined outcome of one aggregation pass.
type PassReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Aggregate aggregator.Report
	Reconcile reconciler.Report
}

// NotifyReport is the outcome of one notification pass.
type NotifyReport struct {
	Events        []notify.Event
	RemindersSent int
	Evicted       int
}

// Runner owns the two periodic passes.
type Runner struct {
	aggregator Aggregator
	reconciler Reconciler
	evaluator  Evaluator
	reminders  ReminderRunner
	evictor    Evictor
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	aggregating atomic.Bool
	notifying   atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithReminders adds the per-user reminder worker to the notification pass.
func WithReminders(r ReminderRunner) Option {
	return func(rn *Runner) { rn.reminders = r }
}

// WithEvictor adds fired-set eviction to the notification pass.
func WithEvictor(e Evictor) Option {
	return func(rn *Runner) { rn.evictor = e }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(rn *Runner) { rn.now = now }
}

// New creates a Runner.
func New(agg Aggregator, rec Reconciler, eval Evaluator, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if cfg.AggregateInterval <= 0 {
		cfg.AggregateInterval = DefaultAggregateInterval
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = DefaultNotifyInterval
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = cfg.AggregateInterval
	}

	r := &Runner{
		aggregator: agg,
		reconciler: rec,
		evaluator:  eval,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs an aggregation pass immediately and then both tickers until
// ctx is cancelled. It returns once every in-flight pass has finished.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		r.loop(ctx, "aggregate", r.config.AggregateInterval, true, func(ctx context.Context) {
			if _, err := r.RefreshNow(ctx); errors.Is(err, ErrPassRunning) {
				metrics.RecordPassSkipped("aggregate")
				r.logger.Warn("previous aggregation pass still running; skipping")
			}
		})
	}()
	go func() {
		defer wg.Done()
		r.loop(ctx, "notify", r.config.NotifyInterval, false, func(ctx context.Context) {
			if _, err := r.NotifyNow(ctx); errors.Is(err, ErrPassRunning) {
				metrics.RecordPassSkipped("notify")
				r.logger.Warn("previous notification pass still running; skipping")
			}
		})
	}()

	r.logger.Info("job runner started",
		zap.Duration("aggregate_interval", r.config.AggregateInterval),
		zap.Duration("notify_interval", r.config.NotifyInterval),
	)

	wg.Wait()
	r.logger.Info("job runner stopped")
}

// loop fires run on every tick. Each run gets its own goroutine so a slow
// pass cannot delay the ticker; overlap is refused by the pass itself.
func (r *Runner) loop(ctx context.Context, name string, every time.Duration, immediate bool, run func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	fire := func() {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			run(ctx)
		}()
	}

	if immediate {
		fire()
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("ticker stopping", zap.String("job", name))
			return
		case <-ticker.C:
			fire()
		}
	}
}

// RefreshNow runs one aggregate-and-reconcile pass. It returns
// ErrPassRunning without doing anything if a pass is already in flight.
func (r *Runner) RefreshNow(ctx context.Context) (*PassReport, error) {
	if !r.aggregating.CompareAndSwap(false, true) {
		return nil, ErrPassRunning
	}
	defer r.aggregating.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.config.PassTimeout)
	defer cancel()

	report := &PassReport{StartedAt: r.now()}
	report.Aggregate = r.aggregator.RunAll(ctx)
	report.Reconcile = r.reconciler.Reconcile(ctx, report.Aggregate.Contests)
	report.Duration = r.now().Sub(report.StartedAt)

	fields := []zap.Field{
		zap.Int("fetched", len(report.Aggregate.Contests)),
		zap.Int("failed_adapters", report.Aggregate.Failed()),
		zap.Int("upserted", report.Reconcile.Upserted),
		zap.Int("failed", report.Reconcile.Failed),
		zap.Int64("swept", report.Reconcile.Swept),
		zap.Duration("duration", report.Duration),
	}
	if err := report.Reconcile.Err(); err != nil {
		r.logger.Error("aggregation pass finished with errors", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("aggregation pass finished", fields...)
	}

	return report, nil
}

// Running reports whether an aggregation pass is in flight.
func (r *Runner) Running() bool {
	return r.aggregating.Load()
}

// NotifyNow runs one notification pass: thresholds, user reminders and
// fired-set eviction.
func (r *Runner) NotifyNow(ctx context.Context) (*NotifyReport, error) {
	if !r.notifying.CompareAndSwap(false, true) {
		return nil, ErrPassRunning
	}
	defer r.notifying.Store(false)

	now := r.now()
	report := &NotifyReport{}

	report.Events = r.evaluator.Evaluate(ctx, now)

	if r.reminders != nil {
		sent, err := r.reminders.RunOnce(ctx, now)
		if err != nil {
			r.logger.Error("reminder pass failed", zap.Error(err))
		}
		report.RemindersSent = sent
	}

	if r.evictor != nil {
		n, err := r.evictor.Evict(ctx, now)
		if err != nil {
			r.logger.Warn("fired set eviction failed", zap.Error(err))
		}
		report.Evicted = n
	}

	if len(report.Events) > 0 || report.RemindersSent > 0 {
		r.logger.Info("notification pass finished",
			zap.Int("events", len(report.Events)),
			zap.Int("reminders_sent", report.RemindersSent),
			zap.Int("evicted", report.Evicted),
		)
	}

	return report, nil
}
