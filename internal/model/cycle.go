package model

import "time"

// CycleStatus is the outcome of one collect/analyze/alert/persist pass
type CycleStatus string

const (
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusFailed    CycleStatus = "failed"
	CycleStatusSkipped   CycleStatus = "skipped"
)

// ProducerFailure records a producer that could not supply fresh data
type ProducerFailure struct {
	ProducerID string   `json:"producer_id"`
	MetricKeys []string `json:"metric_keys,omitempty"`
	Error      string   `json:"error"`
	CarriedOut []string `json:"carried_forward,omitempty"`
	Omitted    []string `json:"omitted,omitempty"`
}

// CooldownSuppression records a rule that would have fired during its cooldown
type CooldownSuppression struct {
	RuleID        string        `json:"rule_id"`
	MetricKey     string        `json:"metric_key"`
	Severity      AlertSeverity `json:"severity"`
	LastRaisedAt  time.Time     `json:"last_raised_at"`
	CooldownUntil time.Time     `json:"cooldown_until"`
}

// StaleEvaluation records a rule evaluated against carried-forward data
type StaleEvaluation struct {
	RuleID    string `json:"rule_id"`
	MetricKey string `json:"metric_key"`
	Raised    bool   `json:"raised"`
}

// DeliveryFailure records a notification channel or feedback sink error
type DeliveryFailure struct {
	Target string `json:"target"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

// CycleDiagnostics is the per-cycle diagnostic report
type CycleDiagnostics struct {
	ProducerFailures     []ProducerFailure     `json:"producer_failures,omitempty"`
	CooldownSuppressions []CooldownSuppression `json:"cooldown_suppressions,omitempty"`
	StaleEvaluations     []StaleEvaluation     `json:"stale_evaluations,omitempty"`
	SkippedRules         []string              `json:"skipped_rules,omitempty"`
	DeliveryFailures     []DeliveryFailure     `json:"delivery_failures,omitempty"`
}

// CycleResult is everything one cycle produced
type CycleResult struct {
	CycleID     string                  `json:"cycle_id"`
	Status      CycleStatus             `json:"status"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	Snapshots   []MetricSnapshot        `json:"snapshots"`
	Trends      map[string]TrendSummary `json:"trends"`
	Alerts      []Alert                 `json:"alerts"`
	Feedback    []FeedbackDocument      `json:"feedback,omitempty"`
	Impact      *ImpactSummary          `json:"impact,omitempty"`
	Diagnostics CycleDiagnostics        `json:"diagnostics"`
	Error       string                  `json:"error,omitempty"`
}

// DeliverableAlerts returns the alerts that may reach notification channels
func (r *CycleResult) DeliverableAlerts() []Alert {
	var alerts []Alert
	for _, a := range r.Alerts {
		if !a.Suppressed {
			alerts = append(alerts, a)
		}
	}
	return alerts
}
