package producer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/t77yq/geo-monitor/internal/model"
)

// SchemaVersion is the only producer document version this build understands
const SchemaVersion = 1

// Kind identifies the upstream producer and therefore its document layout
type Kind string

const (
	KindDiscovery   Kind = "discovery"
	KindContent     Kind = "content"
	KindCompetitive Kind = "competitive"
	KindSystem      Kind = "system"
)

// MetricKeys returns the keys a producer of this kind reports, in document order
func (k Kind) MetricKeys() []string {
	switch k {
	case KindDiscovery:
		return []string{
			model.MetricOverallScore,
			model.MetricDiscoveryScore,
			model.MetricContextScore,
			model.MetricCompetitiveScore,
			model.MetricCitationCount,
			model.MetricTotalCitations,
		}
	case KindContent:
		return []string{model.MetricContentHealthScore, model.MetricGapCount}
	case KindCompetitive:
		return []string{model.MetricMarketSharePct, model.MetricRank, model.MetricOpportunityCount}
	case KindSystem:
		return []string{model.MetricSystemCPUPercent, model.MetricSystemMemPercent}
	default:
		return nil
	}
}

type envelope struct {
	SchemaVersion int        `json:"schema_version"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
}

// DiscoveryDocument is the discovery producer's versioned output
type DiscoveryDocument struct {
	envelope
	OverallScore     *float64 `json:"overall_score"`
	DiscoveryScore   *float64 `json:"discovery_score"`
	ContextScore     *float64 `json:"context_score"`
	CompetitiveScore *float64 `json:"competitive_score"`
	CitationCount    *float64 `json:"citation_count"`
	TotalCitations   *float64 `json:"total_citations"`
}

// ContentGap is one entry of a content producer's top_gaps list
type ContentGap struct {
	Topic    string  `json:"topic"`
	Priority string  `json:"priority,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// ContentDocument is the content producer's versioned output
type ContentDocument struct {
	envelope
	ContentHealthScore *float64     `json:"content_health_score"`
	GapCount           *float64     `json:"gap_count"`
	TopGaps            []ContentGap `json:"top_gaps,omitempty"`
}

// CompetitiveDocument is the competitive producer's versioned output
type CompetitiveDocument struct {
	envelope
	MarketSharePct   *float64 `json:"market_share_pct"`
	Rank             *float64 `json:"rank"`
	OpportunityCount *float64 `json:"opportunity_count"`
}

type field struct {
	key   string
	value *float64
}

// Decode parses a producer document into a reading. Keys absent from the
// document are listed in Reading.Missing instead of failing the whole fetch.
func Decode(kind Kind, data []byte) (*model.Reading, error) {
	var env envelope
	var fields []field

	switch kind {
	case KindDiscovery:
		var doc DiscoveryDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		env = doc.envelope
		fields = []field{
			{model.MetricOverallScore, doc.OverallScore},
			{model.MetricDiscoveryScore, doc.DiscoveryScore},
			{model.MetricContextScore, doc.ContextScore},
			{model.MetricCompetitiveScore, doc.CompetitiveScore},
			{model.MetricCitationCount, doc.CitationCount},
			{model.MetricTotalCitations, doc.TotalCitations},
		}
	case KindContent:
		var doc ContentDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		env = doc.envelope
		fields = []field{
			{model.MetricContentHealthScore, doc.ContentHealthScore},
			{model.MetricGapCount, doc.GapCount},
		}
	case KindCompetitive:
		var doc CompetitiveDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		env = doc.envelope
		fields = []field{
			{model.MetricMarketSharePct, doc.MarketSharePct},
			{model.MetricRank, doc.Rank},
			{model.MetricOpportunityCount, doc.OpportunityCount},
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s document has version %d", ErrUnsupportedVersion, kind, env.SchemaVersion)
	}

	reading := &model.Reading{Values: make(map[string]float64, len(fields))}
	if env.CapturedAt != nil {
		reading.CapturedAt = env.CapturedAt.UTC()
	}
	for _, f := range fields {
		if f.value == nil {
			reading.Missing = append(reading.Missing, f.key)
			continue
		}
		reading.Values[f.key] = *f.value
	}

	if len(reading.Values) == 0 {
		return nil, fmt.Errorf("%w: %s document has none of its metric keys", ErrMalformed, kind)
	}
	return reading, nil
}
