package model

import (
	"fmt"
	"strings"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown severities rank 0.
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertSeverityLow:
		return 1
	case AlertSeverityMedium:
		return 2
	case AlertSeverityHigh:
		return 3
	case AlertSeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min.
func (s AlertSeverity) AtLeast(min AlertSeverity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity parses a configured severity; empty means low
func ParseSeverity(s string) (AlertSeverity, error) {
	if s == "" {
		return AlertSeverityLow, nil
	}
	sev := AlertSeverity(strings.ToLower(s))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Comparison selects how a rule measures a metric against its bounds
type Comparison string

const (
	ComparisonAbsoluteDelta     Comparison = "absolute-delta"
	ComparisonPercentDelta      Comparison = "percent-delta"
	ComparisonThresholdCrossing Comparison = "threshold-crossing"
)

// Direction selects which movements a rule watches
type Direction string

const (
	DirectionDecline     Direction = "decline"
	DirectionImprovement Direction = "improvement"
	DirectionAny         Direction = "any"
)

// AlertKind labels what an alert is about
type AlertKind string

const (
	AlertKindDecline   AlertKind = "decline"
	AlertKindMilestone AlertKind = "milestone"
)

// AlertRule is a named threshold policy over one metric key
type AlertRule struct {
	ID               string        `json:"id" mapstructure:"id"`
	MetricKey        string        `json:"metric_key" mapstructure:"metric_key"`
	Comparison       Comparison    `json:"comparison" mapstructure:"comparison"`
	SignificantBound float64       `json:"significant_bound" mapstructure:"significant_bound"`
	CriticalBound    float64       `json:"critical_bound" mapstructure:"critical_bound"`
	Direction        Direction     `json:"direction" mapstructure:"direction"`
	LowerIsBetter    bool          `json:"lower_is_better,omitempty" mapstructure:"lower_is_better"`
	CooldownPeriod   time.Duration `json:"cooldown_period" mapstructure:"cooldown"`
}

// Alert represents an alert event. Alerts are immutable once persisted.
type Alert struct {
	ID            string        `json:"id"`
	RuleID        string        `json:"rule_id"`
	MetricKey     string        `json:"metric_key"`
	Source        string        `json:"source"`
	Kind          AlertKind     `json:"kind"`
	Severity      AlertSeverity `json:"severity"`
	ObservedValue float64       `json:"observed_value"`
	BaselineValue float64       `json:"baseline_value"`
	Delta         float64       `json:"delta"`
	Message       string        `json:"message"`
	Actions       []string      `json:"recommended_actions,omitempty"`
	RaisedAt      time.Time     `json:"raised_at"`
	Suppressed    bool          `json:"suppressed"`
}
