package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/storage"
)

var cycleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:geo-monitor:cycle"))

// defaultLowerIsBetter lists metrics where a decrease is an improvement
var defaultLowerIsBetter = map[string]bool{
	model.MetricRank:             true,
	model.MetricGapCount:         true,
	model.MetricSystemCPUPercent: true,
	model.MetricSystemMemPercent: true,
}

// Notifier delivers alerts to notification channels
type Notifier interface {
	Notify(ctx context.Context, alerts []model.Alert) []model.DeliveryFailure
}

// FeedbackSink delivers feedback documents to their producers
type FeedbackSink interface {
	Deliver(ctx context.Context, docs []model.FeedbackDocument) []model.DeliveryFailure
}

// CycleObserver is told about every finished cycle, successful or not
type CycleObserver interface {
	ObserveCycle(result *model.CycleResult, duration time.Duration)
}

// EngineConfig configures the cycle pipeline
type EngineConfig struct {
	Collector      CollectorConfig
	TrendWindow    int
	TrendThreshold float64
	Business       BusinessConfig
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithNotifier sets the alert notifier
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithFeedbackSink adds a feedback sink
func WithFeedbackSink(s FeedbackSink) EngineOption {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithObserver sets the cycle observer
func WithObserver(o CycleObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithClock replaces the wall clock used for cycle timestamps
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// Engine runs one collect, analyze, alert and persist pass per call. It is
// not safe for concurrent cycles; the scheduler serializes them.
type Engine struct {
	logger    *zap.Logger
	store     storage.Store
	producers []producer.Producer
	collector *SnapshotCollector
	analyzer  *TrendAnalyzer
	rules     *RuleEngine
	emitter   *FeedbackEmitter
	impact    *ImpactCalculator
	notifier  Notifier
	sinks     []FeedbackSink
	observer  CycleObserver
	clock     func() time.Time
}

// NewEngine wires the cycle pipeline, registers the rules and restores their
// cooldowns from the alert log.
func NewEngine(ctx context.Context, logger *zap.Logger, store storage.Store, producers []producer.Producer,
	rules []model.AlertRule, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if len(producers) == 0 {
		return nil, ErrNoProducers
	}

	owner := make(map[string]string)
	for _, p := range producers {
		for _, key := range p.MetricKeys() {
			if other, ok := owner[key]; ok {
				return nil, fmt.Errorf("%w: %s by %s and %s", ErrDuplicateMetricKey, key, other, p.ID())
			}
			owner[key] = p.ID()
		}
	}

	ruleEngine := NewRuleEngine(logger)
	if err := ruleEngine.Register(rules...); err != nil {
		return nil, err
	}
	if err := ruleEngine.Restore(ctx, store); err != nil {
		return nil, err
	}

	lowerIsBetter := make(map[string]bool, len(defaultLowerIsBetter))
	for key, v := range defaultLowerIsBetter {
		lowerIsBetter[key] = v
	}
	for _, rule := range rules {
		if rule.LowerIsBetter {
			lowerIsBetter[rule.MetricKey] = true
		}
	}

	e := &Engine{
		logger:    logger.Named("engine"),
		store:     store,
		producers: producers,
		collector: NewSnapshotCollector(logger, store, config.Collector),
		analyzer:  NewTrendAnalyzer(store, config.TrendWindow, lowerIsBetter),
		rules:     ruleEngine,
		emitter:   NewFeedbackEmitter(config.TrendThreshold),
		impact:    NewImpactCalculator(config.Business),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Rules exposes the engine's rule set
func (e *Engine) Rules() *RuleEngine {
	return e.rules
}

// CycleID derives a cycle id from its start time
func CycleID(startedAt time.Time) string {
	return uuid.NewSHA1(cycleNamespace, []byte(startedAt.UTC().Format(time.RFC3339Nano))).String()
}

// RunCycle performs one complete cycle. Snapshots and alerts are committed
// atomically; a failed commit leaves the store and the rule cooldowns untouched.
func (e *Engine) RunCycle(ctx context.Context) (*model.CycleResult, error) {
	begin := time.Now()
	startedAt := e.clock().UTC()

	result := &model.CycleResult{
		CycleID:   CycleID(startedAt),
		StartedAt: startedAt,
		Snapshots: []model.MetricSnapshot{},
		Trends:    make(map[string]model.TrendSummary),
		Alerts:    []model.Alert{},
	}

	e.logger.Info("Starting monitoring cycle",
		zap.String("cycle_id", result.CycleID),
		zap.Int("producers", len(e.producers)))

	snapshots, failures := e.collector.Collect(ctx, e.producers, startedAt)
	if snapshots != nil {
		result.Snapshots = snapshots
	}
	result.Diagnostics.ProducerFailures = failures

	for i := range snapshots {
		trend, err := e.analyzer.Analyze(ctx, snapshots[i].MetricKey, &snapshots[i])
		if err != nil {
			return e.fail(result, begin, err)
		}
		result.Trends[snapshots[i].MetricKey] = trend
	}

	ev := e.rules.Evaluate(startedAt, snapshots, result.Trends)
	if ev.Alerts != nil {
		result.Alerts = ev.Alerts
	}
	result.Diagnostics.CooldownSuppressions = ev.CooldownSuppressions
	result.Diagnostics.StaleEvaluations = ev.StaleEvaluations
	result.Diagnostics.SkippedRules = ev.SkippedRules

	if err := e.store.CommitCycle(ctx, snapshots, ev.Alerts); err != nil {
		return e.fail(result, begin, fmt.Errorf("failed to commit cycle: %w", err))
	}
	e.rules.Commit(ev)

	result.Impact = e.impact.Compute(snapshots, result.Trends)

	if deliverable := result.DeliverableAlerts(); len(deliverable) > 0 && e.notifier != nil {
		result.Diagnostics.DeliveryFailures = append(result.Diagnostics.DeliveryFailures,
			e.notifier.Notify(ctx, deliverable)...)
	}

	result.Feedback = e.emitter.Emit(result)
	if len(result.Feedback) > 0 {
		for _, sink := range e.sinks {
			result.Diagnostics.DeliveryFailures = append(result.Diagnostics.DeliveryFailures,
				sink.Deliver(ctx, result.Feedback)...)
		}
	}

	result.Status = model.CycleStatusCompleted
	result.CompletedAt = e.clock().UTC()

	duration := time.Since(begin)
	if e.observer != nil {
		e.observer.ObserveCycle(result, duration)
	}

	e.logger.Info("Monitoring cycle completed",
		zap.String("cycle_id", result.CycleID),
		zap.Int("snapshots", len(result.Snapshots)),
		zap.Int("alerts", len(result.Alerts)),
		zap.Int("delivered", len(result.DeliverableAlerts())),
		zap.Int("producer_failures", len(failures)),
		zap.Int("cooldown_suppressions", len(ev.CooldownSuppressions)),
		zap.Int("feedback", len(result.Feedback)),
		zap.Duration("duration", duration))

	return result, nil
}

func (e *Engine) fail(result *model.CycleResult, begin time.Time, err error) (*model.CycleResult, error) {
	result.Status = model.CycleStatusFailed
	result.Error = err.Error()
	result.CompletedAt = e.clock().UTC()

	if e.observer != nil {
		e.observer.ObserveCycle(result, time.Since(begin))
	}

	e.logger.Error("Monitoring cycle failed",
		zap.String("cycle_id", result.CycleID),
		zap.Error(err))

	return result, err
}
