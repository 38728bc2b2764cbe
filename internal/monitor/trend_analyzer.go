package monitor

import (
	"context"
	"fmt"
	"math"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/storage"
)

const (
	DefaultTrendWindow = 10

	stableTolerance = 1e-9
)

// TrendAnalyzer derives per-cycle trend summaries from stored history
type TrendAnalyzer struct {
	store         storage.MetricStore
	window        int
	lowerIsBetter map[string]bool
}

// NewTrendAnalyzer creates a new trend analyzer. lowerIsBetter lists metric
// keys whose decrease counts as an improvement.
func NewTrendAnalyzer(store storage.MetricStore, window int, lowerIsBetter map[string]bool) *TrendAnalyzer {
	if window < 2 {
		window = DefaultTrendWindow
	}
	if lowerIsBetter == nil {
		lowerIsBetter = map[string]bool{}
	}
	return &TrendAnalyzer{
		store:         store,
		window:        window,
		lowerIsBetter: lowerIsBetter,
	}
}

// Window returns the number of points a summary covers
func (a *TrendAnalyzer) Window() int {
	return a.window
}

// Analyze summarizes a metric over the analyzer's window. current is the
// cycle's not yet persisted snapshot, or nil if the key was omitted; the
// baseline is always the newest stored value.
func (a *TrendAnalyzer) Analyze(ctx context.Context, metricKey string, current *model.MetricSnapshot) (model.TrendSummary, error) {
	limit := a.window
	if current != nil {
		limit--
	}

	history, err := a.store.Latest(ctx, metricKey, limit)
	if err != nil {
		return model.TrendSummary{}, fmt.Errorf("failed to load history for %s: %w", metricKey, err)
	}

	// newest first
	values := make([]float64, 0, len(history)+1)
	if current != nil {
		values = append(values, current.Value)
	}
	for _, snap := range history {
		values = append(values, snap.Value)
	}

	summary := summarize(values, a.lowerIsBetter[metricKey])
	summary.MetricKey = metricKey
	if len(history) > 0 {
		summary.Baseline = history[0].Value
		summary.HasBaseline = true
	}
	return summary, nil
}

// summarize computes the window statistics over values ordered newest first.
// The projection is newest + (newest - oldest) / (n - 1): a straight line
// through the window's endpoints, deliberately not a fitted regression.
func summarize(values []float64, lowerIsBetter bool) model.TrendSummary {
	summary := model.TrendSummary{
		Points:    len(values),
		Direction: model.TrendStable,
	}
	if len(values) == 0 {
		return summary
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	summary.RollingAverage = sum / float64(len(values))

	newest := values[0]
	summary.ProjectedValue = newest
	if len(values) < 2 {
		return summary
	}

	oldest := values[len(values)-1]
	summary.DeltaOverWindow = newest - oldest
	summary.Slope = summary.DeltaOverWindow / float64(len(values)-1)
	summary.ProjectedValue = newest + summary.Slope
	summary.Direction = trendDirection(summary.DeltaOverWindow, lowerIsBetter)

	return summary
}

func trendDirection(delta float64, lowerIsBetter bool) model.TrendDirection {
	if math.Abs(delta) <= stableTolerance {
		return model.TrendStable
	}
	if (delta > 0) != lowerIsBetter {
		return model.TrendImproving
	}
	return model.TrendDeclining
}
