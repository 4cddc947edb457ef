// Package aggregator runs every platform adapter for one pass and joins their
// output without letting one failing platform affect the others.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/contestpulse/internal/contest"
	"github.com/lalithlochan/contestpulse/internal/metrics"
	"github.com/lalithlochan/contestpulse/internal/platform"
)

// AdapterResult is the settled outcome of one adapter call.
type AdapterResult struct {
	Platform contest.Platform
	Count    int
	Err      error
	Duration time.Duration
}

// OK reports whether the adapter returned without error.
func (r AdapterResult) OK() bool { return r.Err == nil }

// Report is the outcome of one aggregation pass.
type Report struct {
	Results  []AdapterResult
	Contests []contest.Canonical
}

// Failed returns the number of adapters that reported an error.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Aggregator fans out to all registered adapters.
type Aggregator struct {
	adapters []platform.Adapter
	logger   *zap.Logger
}

// New creates an aggregator. Output order follows the order of adapters.
func New(logger *zap.Logger, adapters ...platform.Adapter) *Aggregator {
	return &Aggregator{adapters: adapters, logger: logger}
}

// RunAll calls every adapter concurrently, waits for all of them to settle
// and concatenates their records in registration order. It never fails as a whole.
func (a *Aggregator) RunAll(ctx context.Context) Report {
	results := make([]AdapterResult, len(a.adapters))
	batches := make([][]contest.Canonical, len(a.adapters))

	var g errgroup.Group
	for i, adapter := range a.adapters {
		g.Go(func() error {
			start := time.Now()
			records, err := a.safeFetch(ctx, adapter)
			results[i] = AdapterResult{
				Platform: adapter.Platform(),
				Count:    len(records),
				Err:      err,
				Duration: time.Since(start),
			}
			batches[i] = records
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	for i, batch := range batches {
		for _, c := range batch {
			c.Platform = results[i].Platform
			report.Contests = append(report.Contests, c)
		}
	}

	for _, res := range results {
		metrics.RecordAdapterFetch(string(res.Platform), res.Count, res.Duration, res.Err)
		if res.Err != nil {
			a.logger.Error("adapter fetch failed",
				zap.String("platform", string(res.Platform)),
				zap.Error(res.Err),
				zap.Duration("duration", res.Duration),
			)
			continue
		}
		a.logger.Info("adapter fetch completed",
			zap.String("platform", string(res.Platform)),
			zap.Int("count", res.Count),
			zap.Duration("duration", res.Duration),
		)
	}

	a.logger.Info("aggregation pass completed",
		zap.Int("contests", len(report.Contests)),
		zap.Int("adapters", len(results)),
		zap.Int("failed_adapters", report.Failed()),
	)

	return report
}

// safeFetch turns an adapter panic into an error so the pass keeps going.
func (a *Aggregator) safeFetch(ctx context.Context, adapter platform.Adapter) (records []contest.Canonical, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("%w: adapter panicked: %v", platform.ErrUpstream, r)
		}
	}()

	records, err = adapter.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
