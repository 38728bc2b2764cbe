package model

import "time"

// Well-known metric keys reported by the upstream producers
const (
	MetricOverallScore       = "overall_score"
	MetricDiscoveryScore     = "discovery_score"
	MetricContextScore       = "context_score"
	MetricCompetitiveScore   = "competitive_score"
	MetricCitationCount      = "citation_count"
	MetricTotalCitations     = "total_citations"
	MetricContentHealthScore = "content_health_score"
	MetricGapCount           = "gap_count"
	MetricMarketSharePct     = "market_share_pct"
	MetricRank               = "rank"
	MetricOpportunityCount   = "opportunity_count"
	MetricSystemCPUPercent   = "system_cpu_percent"
	MetricSystemMemPercent   = "system_memory_percent"
)

// MetricSnapshot is one observation of a metric at a point in time
type MetricSnapshot struct {
	MetricKey  string    `json:"metric_key"`
	Value      float64   `json:"value"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source"`
	IsStale    bool      `json:"is_stale"`
}

// Reading is the normalized output of one producer fetch. Missing lists the
// keys the producer should report but left out of its document.
type Reading struct {
	ProducerID string             `json:"producer_id"`
	CapturedAt time.Time          `json:"captured_at,omitempty"`
	Values     map[string]float64 `json:"values"`
	Missing    []string           `json:"missing,omitempty"`
}
