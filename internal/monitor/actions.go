package monitor

import (
	"fmt"
	"strings"

	"github.com/t77yq/geo-monitor/internal/model"
)

var (
	declineActions = []string{
		"Investigate recent content changes or technical issues",
		"Review competitor activity for potential causes",
		"Run diagnostic analysis on affected metrics",
		"Consider emergency optimization measures",
	}

	competitiveThreatActions = []string{
		"Analyze competitor's recent strategy changes",
		"Review and update competitive positioning",
		"Accelerate high-priority optimization initiatives",
		"Monitor competitor response to our actions",
	}

	improvementActions = []string{
		"Document successful optimization tactics",
		"Scale successful strategies to other areas",
		"Maintain momentum with continued optimization",
		"Share success insights with stakeholders",
	}

	milestoneActions = []string{
		"Celebrate achievement with team and client",
		"Document milestone factors for replication",
		"Set next milestone targets",
		"Update strategic roadmap based on progress",
	}

	systemActions = []string{
		"Check host load and running processes",
		"Review monitoring interval and fetch concurrency",
	}
)

var competitiveMetrics = map[string]bool{
	model.MetricCompetitiveScore: true,
	model.MetricMarketSharePct:   true,
	model.MetricRank:             true,
}

var systemMetrics = map[string]bool{
	model.MetricSystemCPUPercent: true,
	model.MetricSystemMemPercent: true,
}

// recommendedActions returns a fresh copy of the playbook for an alert
func recommendedActions(rule model.AlertRule, kind model.AlertKind) []string {
	var actions []string
	switch {
	case systemMetrics[rule.MetricKey]:
		actions = systemActions
	case kind == model.AlertKindDecline && competitiveMetrics[rule.MetricKey]:
		actions = competitiveThreatActions
	case kind == model.AlertKindDecline:
		actions = declineActions
	case rule.Comparison == model.ComparisonThresholdCrossing:
		actions = milestoneActions
	default:
		actions = improvementActions
	}
	return append([]string(nil), actions...)
}

func alertMessage(rule model.AlertRule, kind model.AlertKind, severity model.AlertSeverity, current, baseline float64) string {
	label := metricLabel(rule.MetricKey)
	change := current - baseline
	if change < 0 {
		change = -change
	}

	switch {
	case rule.Comparison == model.ComparisonThresholdCrossing && kind == model.AlertKindMilestone:
		return fmt.Sprintf("Milestone: %s reached %.1f (was %.1f)", label, current, baseline)
	case rule.Comparison == model.ComparisonThresholdCrossing:
		return fmt.Sprintf("%s: %s crossed %.1f, now %.1f", strings.ToUpper(string(severity)), label, rule.SignificantBound, current)
	case kind == model.AlertKindMilestone:
		return fmt.Sprintf("%s improved by %.1f to %.1f", label, change, current)
	default:
		return fmt.Sprintf("%s: %s declined by %.1f to %.1f", strings.ToUpper(string(severity)), label, change, current)
	}
}

// metricLabel turns discovery_score into "Discovery Score"
func metricLabel(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if p == "pct" {
			parts[i] = "%"
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
