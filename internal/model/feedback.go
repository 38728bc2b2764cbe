package model

import "time"

// TrendHighlight is a notable trend shift reported back to a producer
type TrendHighlight struct {
	MetricKey       string         `json:"metric_key"`
	RollingAverage  float64        `json:"rolling_average"`
	DeltaOverWindow float64        `json:"delta_over_window"`
	ProjectedValue  float64        `json:"projected_value"`
	Direction       TrendDirection `json:"direction"`
}

// FeedbackDocument is a structured summary addressed to one upstream producer
type FeedbackDocument struct {
	ProducerID      string           `json:"producer_id"`
	CycleID         string           `json:"cycle_id"`
	Priority        AlertSeverity    `json:"priority"`
	RelatedAlerts   []Alert          `json:"related_alerts"`
	TrendHighlights []TrendHighlight `json:"trend_highlights"`
	Recommendations []string         `json:"recommendations,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// ImpactSummary is the per-cycle business impact estimate derived from citation metrics
type ImpactSummary struct {
	CitationRate        float64 `json:"citation_rate"`
	MonthlyTraffic      float64 `json:"estimated_monthly_traffic"`
	ConversionValue     float64 `json:"estimated_conversion_value"`
	BrandMentionValue   float64 `json:"brand_mention_value"`
	TrafficValue        float64 `json:"traffic_value"`
	TotalValue          float64 `json:"total_value"`
	ROIPercent          float64 `json:"roi_percent"`
	ProjectedROIPercent float64 `json:"projected_roi_percent"`
}
