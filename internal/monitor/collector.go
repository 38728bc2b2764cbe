package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/storage"
)

const (
	DefaultFetchTimeout         = 60 * time.Second
	DefaultMaxConcurrentFetches = 5
)

// CollectorConfig bounds producer fetches
type CollectorConfig struct {
	FetchTimeout         time.Duration
	MaxConcurrentFetches int
}

// SnapshotCollector fetches every producer concurrently and turns the results
// into one snapshot per metric key, carrying forward the last stored value
// when a producer has nothing fresh.
type SnapshotCollector struct {
	logger *zap.Logger
	store  storage.MetricStore
	config CollectorConfig
}

// NewSnapshotCollector creates a new snapshot collector
func NewSnapshotCollector(logger *zap.Logger, store storage.MetricStore, config CollectorConfig) *SnapshotCollector {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	return &SnapshotCollector{
		logger: logger.Named("collector"),
		store:  store,
		config: config,
	}
}

type fetchResult struct {
	reading *model.Reading
	err     error
}

// Collect gathers one snapshot attempt per metric key, stamped with the cycle
// time. It never fails; producer problems are returned as diagnostics.
func (c *SnapshotCollector) Collect(ctx context.Context, producers []producer.Producer, cycleAt time.Time) ([]model.MetricSnapshot, []model.ProducerFailure) {
	results := make([]fetchResult, len(producers))

	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentFetches)
	for i, p := range producers {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
			defer cancel()

			reading, err := c.fetch(fetchCtx, p)
			results[i] = fetchResult{reading: reading, err: err}
			return nil
		})
	}
	// every fetch joins before any snapshot is built
	_ = g.Wait()

	var snapshots []model.MetricSnapshot
	var failures []model.ProducerFailure

	for i, p := range producers {
		res := results[i]
		failed := p.MetricKeys()
		var cause error

		if res.err != nil {
			cause = res.err
		} else {
			failed = nil
			for _, key := range p.MetricKeys() {
				value, ok := res.reading.Values[key]
				if !ok {
					failed = append(failed, key)
					continue
				}
				snapshots = append(snapshots, model.MetricSnapshot{
					MetricKey:  key,
					Value:      value,
					CapturedAt: cycleAt,
					Source:     p.ID(),
				})
			}
			if len(failed) > 0 {
				cause = fmt.Errorf("%w: missing %s", producer.ErrMalformed, strings.Join(failed, ", "))
			}
		}

		if len(failed) == 0 {
			continue
		}

		failure := model.ProducerFailure{
			ProducerID: p.ID(),
			MetricKeys: failed,
			Error:      cause.Error(),
		}
		for _, key := range failed {
			snap, ok := c.carryForward(ctx, key, p.ID(), cycleAt)
			if !ok {
				failure.Omitted = append(failure.Omitted, key)
				continue
			}
			snapshots = append(snapshots, snap)
			failure.CarriedOut = append(failure.CarriedOut, key)
		}
		failures = append(failures, failure)

		c.logger.Warn("Producer had no fresh data",
			zap.String("producer_id", p.ID()),
			zap.Strings("carried_forward", failure.CarriedOut),
			zap.Strings("omitted", failure.Omitted),
			zap.Error(cause))
	}

	return snapshots, failures
}

func (c *SnapshotCollector) fetch(ctx context.Context, p producer.Producer) (reading *model.Reading, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: producer panicked: %v", producer.ErrUnavailable, r)
		}
	}()

	reading, err = p.Fetch(ctx)
	if err == nil && reading == nil {
		err = fmt.Errorf("%w: empty reading", producer.ErrUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: fetch timed out after %s", producer.ErrUnavailable, c.config.FetchTimeout)
	}
	return reading, err
}

// carryForward re-emits the last stored value of a key as a stale snapshot
func (c *SnapshotCollector) carryForward(ctx context.Context, key, source string, cycleAt time.Time) (model.MetricSnapshot, bool) {
	last, err := c.store.Latest(ctx, key, 1)
	if err != nil {
		c.logger.Error("Failed to load last known value",
			zap.String("metric_key", key),
			zap.Error(err))
		return model.MetricSnapshot{}, false
	}
	if len(last) == 0 {
		return model.MetricSnapshot{}, false
	}

	return model.MetricSnapshot{
		MetricKey:  key,
		Value:      last[0].Value,
		CapturedAt: cycleAt,
		Source:     source,
		IsStale:    true,
	}, true
}
