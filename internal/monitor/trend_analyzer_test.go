package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/geo-monitor/internal/model"
)

func TestTrendAnalyzer_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("no history and no current value", func(t *testing.T) {
		analyzer := NewTrendAnalyzer(newTestStore(t), 5, nil)

		summary, err := analyzer.Analyze(ctx, model.MetricDiscoveryScore, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Points)
		assert.False(t, summary.HasBaseline)
		assert.Equal(t, model.TrendStable, summary.Direction)
	})

	t.Run("single point projects the current value", func(t *testing.T) {
		analyzer := NewTrendAnalyzer(newTestStore(t), 5, nil)
		current := &model.MetricSnapshot{MetricKey: model.MetricDiscoveryScore, Value: 12.9}

		summary, err := analyzer.Analyze(ctx, model.MetricDiscoveryScore, current)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Points)
		assert.Equal(t, 0.0, summary.DeltaOverWindow)
		assert.Equal(t, 12.9, summary.ProjectedValue)
		assert.Equal(t, 12.9, summary.RollingAverage)
		assert.False(t, summary.HasBaseline)
	})

	t.Run("window statistics", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, model.MetricDiscoveryScore, "discovery", 10, 12, 14, 16)
		analyzer := NewTrendAnalyzer(store, 4, nil)
		current := &model.MetricSnapshot{MetricKey: model.MetricDiscoveryScore, Value: 20}

		// window of 4: current 20 plus stored 16, 14, 12
		summary, err := analyzer.Analyze(ctx, model.MetricDiscoveryScore, current)
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Points)
		assert.True(t, summary.HasBaseline)
		assert.Equal(t, 16.0, summary.Baseline)
		assert.InDelta(t, 15.5, summary.RollingAverage, 1e-9)
		assert.InDelta(t, 8.0, summary.DeltaOverWindow, 1e-9)
		assert.InDelta(t, 8.0/3, summary.Slope, 1e-9)
		assert.InDelta(t, 20+8.0/3, summary.ProjectedValue, 1e-9)
		assert.Equal(t, model.TrendImproving, summary.Direction)
	})

	t.Run("history only", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, model.MetricContextScore, "discovery", 60, 57.5)
		analyzer := NewTrendAnalyzer(store, 10, nil)

		summary, err := analyzer.Analyze(ctx, model.MetricContextScore, nil)
		require.NoError(t, err)
		assert.Equal(t, 57.5, summary.Baseline)
		assert.InDelta(t, -2.5, summary.DeltaOverWindow, 1e-9)
		assert.InDelta(t, 55.0, summary.ProjectedValue, 1e-9)
		assert.Equal(t, model.TrendDeclining, summary.Direction)
	})

	t.Run("lower is better", func(t *testing.T) {
		store := newTestStore(t)
		seed(t, store, model.MetricRank, "competitive", 19)
		analyzer := NewTrendAnalyzer(store, 10, map[string]bool{model.MetricRank: true})

		summary, err := analyzer.Analyze(ctx, model.MetricRank, &model.MetricSnapshot{MetricKey: model.MetricRank, Value: 12})
		require.NoError(t, err)
		assert.Equal(t, model.TrendImproving, summary.Direction)
	})
}
