package model

// TrendDirection describes the movement of a metric across a window
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// TrendSummary is derived per cycle from stored history and never persisted.
//
// ProjectedValue is a one-step linear extrapolation from the slope between the
// oldest and newest points of the window. It is a heuristic, not a forecast.
type TrendSummary struct {
	MetricKey       string         `json:"metric_key"`
	Points          int            `json:"points"`
	Baseline        float64        `json:"baseline"`
	HasBaseline     bool           `json:"has_baseline"`
	RollingAverage  float64        `json:"rolling_average"`
	DeltaOverWindow float64        `json:"delta_over_window"`
	Slope           float64        `json:"slope"`
	ProjectedValue  float64        `json:"projected_value"`
	Direction       TrendDirection `json:"direction"`
}
