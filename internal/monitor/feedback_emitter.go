package monitor

import (
	"fmt"
	"math"

	"github.com/t77yq/geo-monitor/internal/model"
)

const DefaultTrendThreshold = 5.0

// FeedbackEmitter packages a cycle's alerts and notable trends into one
// document per implicated producer. Delivery is left to feedback sinks.
type FeedbackEmitter struct {
	trendThreshold float64
}

// NewFeedbackEmitter creates a new feedback emitter. A trend is notable when
// |delta_over_window| reaches threshold.
func NewFeedbackEmitter(threshold float64) *FeedbackEmitter {
	if threshold <= 0 {
		threshold = DefaultTrendThreshold
	}
	return &FeedbackEmitter{trendThreshold: threshold}
}

// Emit builds the cycle's feedback documents in snapshot (producer) order
func (f *FeedbackEmitter) Emit(result *model.CycleResult) []model.FeedbackDocument {
	var order []string
	docs := make(map[string]*model.FeedbackDocument)

	docFor := func(producerID string) *model.FeedbackDocument {
		if doc, ok := docs[producerID]; ok {
			return doc
		}
		doc := &model.FeedbackDocument{
			ProducerID:      producerID,
			CycleID:         result.CycleID,
			Priority:        model.AlertSeverityLow,
			RelatedAlerts:   []model.Alert{},
			TrendHighlights: []model.TrendHighlight{},
			GeneratedAt:     result.StartedAt,
		}
		docs[producerID] = doc
		order = append(order, producerID)
		return doc
	}

	for _, snap := range result.Snapshots {
		if snap.IsStale {
			continue
		}
		trend, ok := result.Trends[snap.MetricKey]
		if !ok || math.Abs(trend.DeltaOverWindow) < f.trendThreshold {
			continue
		}

		doc := docFor(snap.Source)
		doc.TrendHighlights = append(doc.TrendHighlights, model.TrendHighlight{
			MetricKey:       snap.MetricKey,
			RollingAverage:  trend.RollingAverage,
			DeltaOverWindow: trend.DeltaOverWindow,
			ProjectedValue:  trend.ProjectedValue,
			Direction:       trend.Direction,
		})
	}

	for _, alert := range result.DeliverableAlerts() {
		doc := docFor(alert.Source)
		doc.RelatedAlerts = append(doc.RelatedAlerts, alert)
		if alert.Severity.Rank() > doc.Priority.Rank() {
			doc.Priority = alert.Severity
		}
	}

	out := make([]model.FeedbackDocument, 0, len(order))
	for _, id := range order {
		doc := docs[id]
		doc.Recommendations = recommendations(doc)
		out = append(out, *doc)
	}
	return out
}

func recommendations(doc *model.FeedbackDocument) []string {
	seen := make(map[string]bool)
	var recs []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			recs = append(recs, s)
		}
	}

	for _, alert := range doc.RelatedAlerts {
		for _, action := range alert.Actions {
			add(action)
		}
	}
	for _, h := range doc.TrendHighlights {
		switch h.Direction {
		case model.TrendDeclining:
			add(fmt.Sprintf("Investigate declining %s trend (%+.1f over window)", metricLabel(h.MetricKey), h.DeltaOverWindow))
		case model.TrendImproving:
			add(fmt.Sprintf("Sustain improving %s trend (%+.1f over window)", metricLabel(h.MetricKey), h.DeltaOverWindow))
		}
	}
	return recs
}
