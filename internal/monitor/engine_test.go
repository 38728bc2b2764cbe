package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alerts []model.Alert) []model.DeliveryFailure {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alerts...)
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	docs []model.FeedbackDocument
}

func (s *recordingSink) Deliver(ctx context.Context, docs []model.FeedbackDocument) []model.DeliveryFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
	return []model.DeliveryFailure{{Target: "test", ID: docs[0].ProducerID, Error: "disk full"}}
}

func improvementRule() model.AlertRule {
	return model.AlertRule{
		ID:               "discovery_improvement",
		MetricKey:        model.MetricDiscoveryScore,
		Comparison:       model.ComparisonAbsoluteDelta,
		SignificantBound: 10,
		CriticalBound:    20,
		Direction:        model.DirectionImprovement,
		CooldownPeriod:   24 * time.Hour,
	}
}

func rankRule() model.AlertRule {
	return model.AlertRule{
		ID:               "rank_drop",
		MetricKey:        model.MetricRank,
		Comparison:       model.ComparisonAbsoluteDelta,
		SignificantBound: 3,
		CriticalBound:    6,
		Direction:        model.DirectionAny,
		LowerIsBetter:    true,
		CooldownPeriod:   12 * time.Hour,
	}
}

func newTestEngine(t *testing.T, store storage.Store, clock *manualClock, producers []producer.Producer,
	rules []model.AlertRule, opts ...EngineOption) *Engine {
	t.Helper()

	opts = append([]EngineOption{WithClock(clock.Now)}, opts...)
	engine, err := NewEngine(context.Background(), zaptest.NewLogger(t), store, producers, rules, EngineConfig{
		Collector:      CollectorConfig{FetchTimeout: 2 * time.Second, MaxConcurrentFetches: 2},
		TrendWindow:    5,
		TrendThreshold: 5,
		Business:       DefaultBusinessConfig(),
	}, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_DiscoveryImprovementScenario(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, model.MetricDiscoveryScore, "discovery", 12.9)

	discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(25.9))
	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	clock := &manualClock{now: cycleStart}

	engine := newTestEngine(t, store, clock, []producer.Producer{discovery}, []model.AlertRule{improvementRule()},
		WithNotifier(notifier), WithFeedbackSink(sink))

	result, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CycleStatusCompleted, result.Status)

	require.Len(t, result.Alerts, 1)
	alert := result.Alerts[0]
	assert.Equal(t, model.AlertSeverityLow, alert.Severity)
	assert.Equal(t, model.AlertKindMilestone, alert.Kind)
	assert.False(t, alert.Suppressed)
	assert.InDelta(t, 13.0, alert.Delta, 1e-9)
	assert.Equal(t, "discovery", alert.Source)

	require.Len(t, notifier.alerts, 1)

	require.Len(t, result.Feedback, 1)
	doc := result.Feedback[0]
	assert.Equal(t, "discovery", doc.ProducerID)
	assert.Equal(t, result.CycleID, doc.CycleID)
	require.Len(t, doc.RelatedAlerts, 1)
	assert.Equal(t, alert.ID, doc.RelatedAlerts[0].ID)
	require.Len(t, doc.TrendHighlights, 1)
	assert.Equal(t, model.MetricDiscoveryScore, doc.TrendHighlights[0].MetricKey)
	assert.Equal(t, model.TrendImproving, doc.TrendHighlights[0].Direction)
	assert.True(t, doc.GeneratedAt.Equal(cycleStart))
	assert.Contains(t, doc.Recommendations, "Document successful optimization tactics")

	require.Len(t, sink.docs, 1)
	require.Len(t, result.Diagnostics.DeliveryFailures, 1)
	assert.Equal(t, "disk full", result.Diagnostics.DeliveryFailures[0].Error)

	// every snapshot and the alert were persisted
	snaps, err := store.QueryRange(context.Background(), model.MetricDiscoveryScore, cycleStart, cycleStart)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 25.9, snaps[0].Value)

	alerts, err := store.QueryAlerts(context.Background(), "discovery_improvement", cycleStart, cycleStart)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	require.NotNil(t, result.Impact)
	assert.InDelta(t, 0.15, result.Impact.CitationRate, 1e-9)
}

func TestEngine_UnreachableCompetitiveProducer(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, model.MetricMarketSharePct, "competitive", 12)
	seed(t, store, model.MetricRank, "competitive", 19)
	seed(t, store, model.MetricOpportunityCount, "competitive", 3)

	discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(20))
	competitive := newFakeProducer("competitive", producer.KindCompetitive, competitiveValues(19))
	competitive.fail(producer.ErrUnavailable)

	notifier := &recordingNotifier{}
	clock := &manualClock{now: cycleStart}
	engine := newTestEngine(t, store, clock, []producer.Producer{discovery, competitive},
		[]model.AlertRule{rankRule()}, WithNotifier(notifier))

	for i := 0; i < 3; i++ {
		result, err := engine.RunCycle(context.Background())
		require.NoError(t, err)

		for _, a := range result.Alerts {
			assert.NotEqual(t, model.MetricRank, a.MetricKey)
		}
		require.Len(t, result.Diagnostics.ProducerFailures, 1, "cycle %d", i)
		failure := result.Diagnostics.ProducerFailures[0]
		assert.Equal(t, "competitive", failure.ProducerID)
		assert.Contains(t, failure.CarriedOut, model.MetricRank)
		assert.Empty(t, failure.Omitted)

		require.Len(t, result.Diagnostics.StaleEvaluations, 1)
		assert.Equal(t, "rank_drop", result.Diagnostics.StaleEvaluations[0].RuleID)

		clock.Advance(6 * time.Hour)
	}

	snaps, err := store.QueryRange(context.Background(), model.MetricRank, cycleStart, cycleStart.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		assert.True(t, s.IsStale)
		assert.Equal(t, 19.0, s.Value)
	}
	assert.Empty(t, notifier.alerts)
}

func TestEngine_CooldownAcrossCycles(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, model.MetricDiscoveryScore, "discovery", 50)

	discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(35))
	notifier := &recordingNotifier{}
	clock := &manualClock{now: cycleStart}

	rule := improvementRule()
	rule.ID = "discovery_decline"
	rule.Direction = model.DirectionDecline
	engine := newTestEngine(t, store, clock, []producer.Producer{discovery}, []model.AlertRule{rule}, WithNotifier(notifier))

	result, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, model.AlertSeverityHigh, result.Alerts[0].Severity)

	// worsening decline inside the cooldown window
	for i := 1; i <= 3; i++ {
		clock.Advance(6 * time.Hour)
		discovery.set(model.MetricDiscoveryScore, 35-float64(i)*15)

		result, err = engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, result.Alerts)
		require.Len(t, result.Diagnostics.CooldownSuppressions, 1)
		assert.Equal(t, "discovery_decline", result.Diagnostics.CooldownSuppressions[0].RuleID)
	}
	assert.Len(t, notifier.alerts, 1)

	clock.Advance(6 * time.Hour)
	discovery.set(model.MetricDiscoveryScore, -40)
	result, err = engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	assert.Len(t, notifier.alerts, 2)
}

func TestEngine_CooldownSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, model.MetricDiscoveryScore, "discovery", 50)

	discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(35))
	clock := &manualClock{now: cycleStart}
	rule := improvementRule()
	rule.ID = "discovery_decline"
	rule.Direction = model.DirectionDecline

	first := newTestEngine(t, store, clock, []producer.Producer{discovery}, []model.AlertRule{rule})
	result, err := first.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)

	clock.Advance(time.Hour)
	discovery.set(model.MetricDiscoveryScore, 10)

	second := newTestEngine(t, store, clock, []producer.Producer{discovery}, []model.AlertRule{rule})
	result, err = second.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.Len(t, result.Diagnostics.CooldownSuppressions, 1)
}

func TestEngine_RunOnceIsDeterministic(t *testing.T) {
	run := func() *model.CycleResult {
		store := newTestStore(t)
		seed(t, store, model.MetricDiscoveryScore, "discovery", 30, 20, 12.9)
		seed(t, store, model.MetricRank, "competitive", 12, 19)

		discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(25.9))
		competitive := newFakeProducer("competitive", producer.KindCompetitive, competitiveValues(25))
		clock := &manualClock{now: cycleStart}

		engine := newTestEngine(t, store, clock, []producer.Producer{discovery, competitive},
			[]model.AlertRule{improvementRule(), rankRule()})
		result, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	require.NotEmpty(t, a.Alerts)
	assert.Equal(t, a.Alerts, b.Alerts)
	assert.Equal(t, a.Feedback, b.Feedback)
	assert.Equal(t, a.CycleID, b.CycleID)
}

func TestEngine_CommitFailureLeavesCooldownIdle(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, model.MetricDiscoveryScore, "discovery", 50)

	discovery := newFakeProducer("discovery", producer.KindDiscovery, discoveryValues(35))
	clock := &manualClock{now: cycleStart}
	rule := improvementRule()
	rule.Direction = model.DirectionAny

	// a snapshot already sits at the cycle timestamp
	require.NoError(t, store.Append(context.Background(), model.MetricSnapshot{
		MetricKey: model.MetricOverallScore, Value: 1, CapturedAt: cycleStart, Source: "discovery",
	}))

	engine := newTestEngine(t, store, clock, []producer.Producer{discovery}, []model.AlertRule{rule})
	result, err := engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrDuplicateTimestamp))
	assert.Equal(t, model.CycleStatusFailed, result.Status)

	_, raised := engine.Rules().LastRaisedAt(rule.ID)
	assert.False(t, raised)

	alerts, err := store.QueryAlerts(context.Background(), rule.ID, cycleStart.Add(-time.Hour), cycleStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestNewEngine_Validation(t *testing.T) {
	store := newTestStore(t)
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	_, err := NewEngine(ctx, logger, store, nil, nil, EngineConfig{})
	assert.ErrorIs(t, err, ErrNoProducers)

	a := newFakeProducer("a", producer.KindCompetitive, competitiveValues(1))
	b := newFakeProducer("b", producer.KindCompetitive, competitiveValues(1))
	_, err = NewEngine(ctx, logger, store, []producer.Producer{a, b}, nil, EngineConfig{})
	assert.ErrorIs(t, err, ErrDuplicateMetricKey)

	bad := rankRule()
	bad.CriticalBound = 1
	_, err = NewEngine(ctx, logger, store, []producer.Producer{a}, []model.AlertRule{bad}, EngineConfig{})
	assert.ErrorIs(t, err, ErrInvalidRule)
}
