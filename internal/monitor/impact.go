package monitor

import (
	"github.com/t77yq/geo-monitor/internal/model"
)

// BusinessConfig holds the valuation constants of the impact estimate
type BusinessConfig struct {
	BrandMentionValue float64 `mapstructure:"brand_mention_value"`
	MonthlyInvestment float64 `mapstructure:"monthly_investment"`
	ValuePerVisit     float64 `mapstructure:"value_per_visit"`
	ConversionRate    float64 `mapstructure:"conversion_rate"`
}

// DefaultBusinessConfig returns the stock valuation constants
func DefaultBusinessConfig() BusinessConfig {
	return BusinessConfig{
		BrandMentionValue: 50,
		MonthlyInvestment: 5000,
		ValuePerVisit:     2.5,
		ConversionRate:    0.03,
	}
}

const trafficPerCitationRate = 1000

// ImpactCalculator turns citation metrics into a rough ROI estimate
type ImpactCalculator struct {
	config BusinessConfig
}

// NewImpactCalculator creates a new impact calculator
func NewImpactCalculator(config BusinessConfig) *ImpactCalculator {
	return &ImpactCalculator{config: config}
}

// Compute returns nil when the cycle has no citation_count snapshot
func (c *ImpactCalculator) Compute(snapshots []model.MetricSnapshot, trends map[string]model.TrendSummary) *model.ImpactSummary {
	var citations, total float64
	var hasCitations bool
	for _, snap := range snapshots {
		switch snap.MetricKey {
		case model.MetricCitationCount:
			citations = snap.Value
			hasCitations = true
		case model.MetricTotalCitations:
			total = snap.Value
		}
	}
	if !hasCitations {
		return nil
	}

	summary := c.estimate(citations, total)

	projectedCitations, projectedTotal := citations, total
	if t, ok := trends[model.MetricCitationCount]; ok && t.Points > 0 {
		projectedCitations = t.ProjectedValue
	}
	if t, ok := trends[model.MetricTotalCitations]; ok && t.Points > 0 {
		projectedTotal = t.ProjectedValue
	}
	summary.ProjectedROIPercent = c.estimate(max(projectedCitations, 0), max(projectedTotal, 0)).ROIPercent

	return summary
}

func (c *ImpactCalculator) estimate(citations, total float64) *model.ImpactSummary {
	var rate float64
	if total > 0 {
		rate = citations / total
	}

	traffic := rate * trafficPerCitationRate
	s := &model.ImpactSummary{
		CitationRate:      rate,
		MonthlyTraffic:    traffic,
		ConversionValue:   traffic * c.config.ConversionRate * c.config.BrandMentionValue,
		BrandMentionValue: citations * c.config.BrandMentionValue,
		TrafficValue:      traffic * c.config.ValuePerVisit,
	}
	s.TotalValue = s.ConversionValue + s.BrandMentionValue + s.TrafficValue
	if c.config.MonthlyInvestment > 0 {
		s.ROIPercent = (s.TotalValue - c.config.MonthlyInvestment) / c.config.MonthlyInvestment * 100
	}
	return s
}
