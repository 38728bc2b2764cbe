package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/storage"
)

var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:geo-monitor:alert"))

// AlertID derives the alert id from its rule and raise time so that a replayed
// cycle yields identical ids.
func AlertID(ruleID string, raisedAt time.Time) string {
	return uuid.NewSHA1(alertNamespace, []byte(ruleID+"|"+raisedAt.UTC().Format(time.RFC3339Nano))).String()
}

type ruleState struct {
	rule         model.AlertRule
	lastRaisedAt time.Time
}

// RuleEngine evaluates alert rules in registration order. A rule is Idle
// until it raises, then stays in Cooldown until cooldown_period has elapsed
// since lastRaisedAt.
type RuleEngine struct {
	logger *zap.Logger
	mu     sync.RWMutex
	order  []string
	rules  map[string]*ruleState
}

// NewRuleEngine creates a new rule engine
func NewRuleEngine(logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		logger: logger.Named("rule-engine"),
		rules:  make(map[string]*ruleState),
	}
}

// ValidateRule checks a rule without registering it
func ValidateRule(rule model.AlertRule) error {
	var problems []string

	if rule.ID == "" {
		problems = append(problems, "id is required")
	}
	if rule.MetricKey == "" {
		problems = append(problems, "metric_key is required")
	}

	switch rule.Direction {
	case model.DirectionDecline, model.DirectionImprovement, model.DirectionAny:
	default:
		problems = append(problems, fmt.Sprintf("unknown direction %q", rule.Direction))
	}

	switch rule.Comparison {
	case model.ComparisonAbsoluteDelta, model.ComparisonPercentDelta:
		if rule.SignificantBound <= 0 {
			problems = append(problems, "significant_bound must be positive for delta comparisons")
		}
		if math.Abs(rule.CriticalBound) < math.Abs(rule.SignificantBound) {
			problems = append(problems, fmt.Sprintf("critical_bound %.4g is smaller than significant_bound %.4g",
				rule.CriticalBound, rule.SignificantBound))
		}
	case model.ComparisonThresholdCrossing:
		// crossings are detected on the way up, which is an improvement
		// unless lower values are better
		if rule.CriticalBound < rule.SignificantBound {
			problems = append(problems, fmt.Sprintf("critical_bound %.4g is below significant_bound %.4g",
				rule.CriticalBound, rule.SignificantBound))
		}
		if rule.Direction == model.DirectionDecline && !rule.LowerIsBetter {
			problems = append(problems, "threshold crossing on a higher is better metric can never be a decline")
		}
		if rule.Direction == model.DirectionImprovement && rule.LowerIsBetter {
			problems = append(problems, "threshold crossing on a lower is better metric can never be an improvement")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown comparison %q", rule.Comparison))
	}
	if rule.CooldownPeriod < 0 {
		problems = append(problems, "cooldown must not be negative")
	}

	if len(problems) > 0 {
		return &RuleValidationError{RuleID: rule.ID, Problems: problems, Err: ErrInvalidRule}
	}
	return nil
}

// Register validates and adds rules. Nothing is registered if any rule is rejected.
func (e *RuleEngine) Register(rules ...model.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return err
		}
		if _, exists := e.rules[rule.ID]; exists || seen[rule.ID] {
			return &RuleValidationError{RuleID: rule.ID, Problems: []string{"id already registered"}, Err: ErrDuplicateRule}
		}
		seen[rule.ID] = true
	}

	for _, rule := range rules {
		e.order = append(e.order, rule.ID)
		e.rules[rule.ID] = &ruleState{rule: rule}
		e.logger.Info("Registered alert rule",
			zap.String("rule_id", rule.ID),
			zap.String("metric_key", rule.MetricKey),
			zap.String("comparison", string(rule.Comparison)))
	}
	return nil
}

// Remove deletes a rule and its cooldown state
func (e *RuleEngine) Remove(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[ruleID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	delete(e.rules, ruleID)
	for i, id := range e.order {
		if id == ruleID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Rules returns the registered rules in registration order
func (e *RuleEngine) Rules() []model.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]model.AlertRule, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.rules[id].rule)
	}
	return rules
}

// LastRaisedAt returns when a rule last delivered an alert
func (e *RuleEngine) LastRaisedAt(ruleID string) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.rules[ruleID]
	if !ok || state.lastRaisedAt.IsZero() {
		return time.Time{}, false
	}
	return state.lastRaisedAt, true
}

// Restore reloads cooldown state from previously delivered alerts
func (e *RuleEngine) Restore(ctx context.Context, alerts storage.AlertStore) error {
	for _, rule := range e.Rules() {
		last, err := alerts.LastRaised(ctx, rule.ID)
		if err != nil {
			return fmt.Errorf("failed to restore cooldown for %s: %w", rule.ID, err)
		}
		if last == nil {
			continue
		}

		e.mu.Lock()
		if state, ok := e.rules[rule.ID]; ok && last.RaisedAt.After(state.lastRaisedAt) {
			state.lastRaisedAt = last.RaisedAt
		}
		e.mu.Unlock()

		e.logger.Debug("Restored rule cooldown",
			zap.String("rule_id", rule.ID),
			zap.Time("last_raised_at", last.RaisedAt))
	}
	return nil
}

// Evaluation is the outcome of evaluating every rule for one cycle. Cooldowns
// only start once it is passed to Commit.
type Evaluation struct {
	At                   time.Time
	Alerts               []model.Alert
	CooldownSuppressions []model.CooldownSuppression
	StaleEvaluations     []model.StaleEvaluation
	SkippedRules         []string
	raised               []string
}

// Evaluate runs every rule against the cycle's snapshots and trends
func (e *RuleEngine) Evaluate(now time.Time, snapshots []model.MetricSnapshot, trends map[string]model.TrendSummary) *Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bySnapshot := make(map[string]model.MetricSnapshot, len(snapshots))
	for _, snap := range snapshots {
		bySnapshot[snap.MetricKey] = snap
	}

	ev := &Evaluation{At: now}
	for _, id := range e.order {
		state := e.rules[id]
		rule := state.rule

		snap, ok := bySnapshot[rule.MetricKey]
		trend, hasTrend := trends[rule.MetricKey]
		if !ok || !hasTrend || !trend.HasBaseline {
			ev.SkippedRules = append(ev.SkippedRules, rule.ID)
			continue
		}

		kind, severity, fired := classify(rule, snap.Value, trend.Baseline)

		if snap.IsStale {
			ev.StaleEvaluations = append(ev.StaleEvaluations, model.StaleEvaluation{
				RuleID:    rule.ID,
				MetricKey: rule.MetricKey,
				Raised:    fired,
			})
			if fired {
				ev.Alerts = append(ev.Alerts, newAlert(rule, snap, trend.Baseline, kind, severity, now, true))
			}
			continue
		}
		if !fired {
			continue
		}

		if !state.lastRaisedAt.IsZero() && now.Sub(state.lastRaisedAt) < rule.CooldownPeriod {
			ev.CooldownSuppressions = append(ev.CooldownSuppressions, model.CooldownSuppression{
				RuleID:        rule.ID,
				MetricKey:     rule.MetricKey,
				Severity:      severity,
				LastRaisedAt:  state.lastRaisedAt,
				CooldownUntil: state.lastRaisedAt.Add(rule.CooldownPeriod),
			})
			e.logger.Debug("Alert suppressed by cooldown",
				zap.String("rule_id", rule.ID),
				zap.String("severity", string(severity)))
			continue
		}

		ev.Alerts = append(ev.Alerts, newAlert(rule, snap, trend.Baseline, kind, severity, now, false))
		ev.raised = append(ev.raised, rule.ID)
	}

	return ev
}

// Commit moves every rule that raised a delivered alert into cooldown
func (e *RuleEngine) Commit(ev *Evaluation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ev.raised {
		if state, ok := e.rules[id]; ok {
			state.lastRaisedAt = ev.At
		}
	}
}

func newAlert(rule model.AlertRule, snap model.MetricSnapshot, baseline float64, kind model.AlertKind,
	severity model.AlertSeverity, now time.Time, suppressed bool) model.Alert {
	return model.Alert{
		ID:            AlertID(rule.ID, now),
		RuleID:        rule.ID,
		MetricKey:     rule.MetricKey,
		Source:        snap.Source,
		Kind:          kind,
		Severity:      severity,
		ObservedValue: snap.Value,
		BaselineValue: baseline,
		Delta:         snap.Value - baseline,
		Message:       alertMessage(rule, kind, severity, snap.Value, baseline),
		Actions:       recommendedActions(rule, kind),
		RaisedAt:      now,
		Suppressed:    suppressed,
	}
}

// classify decides whether a rule fires and with which severity.
//
// Declines map to Critical at or above the critical bound, High at or above
// the midpoint of the two bounds and Medium at or above the significant
// bound. Improvements that cross either bound are Low milestones.
func classify(rule model.AlertRule, current, baseline float64) (model.AlertKind, model.AlertSeverity, bool) {
	significant := math.Abs(rule.SignificantBound)
	critical := math.Abs(rule.CriticalBound)

	var magnitude float64
	var rising bool

	switch rule.Comparison {
	case model.ComparisonAbsoluteDelta:
		magnitude = math.Abs(current - baseline)
		rising = current > baseline
	case model.ComparisonPercentDelta:
		if baseline == 0 {
			return "", "", false
		}
		magnitude = math.Abs(current-baseline) / math.Abs(baseline) * 100
		rising = current > baseline
	case model.ComparisonThresholdCrossing:
		if !crossedUpward(baseline, current, rule.SignificantBound) && !crossedUpward(baseline, current, rule.CriticalBound) {
			return "", "", false
		}
		significant, critical = rule.SignificantBound, rule.CriticalBound
		magnitude = current
		rising = true
	default:
		return "", "", false
	}

	if current == baseline || magnitude < significant {
		return "", "", false
	}

	improvement := rising != rule.LowerIsBetter
	switch rule.Direction {
	case model.DirectionDecline:
		if improvement {
			return "", "", false
		}
	case model.DirectionImprovement:
		if !improvement {
			return "", "", false
		}
	}

	if improvement {
		return model.AlertKindMilestone, model.AlertSeverityLow, true
	}

	switch {
	case magnitude >= critical:
		return model.AlertKindDecline, model.AlertSeverityCritical, true
	case magnitude >= (significant+critical)/2:
		return model.AlertKindDecline, model.AlertSeverityHigh, true
	default:
		return model.AlertKindDecline, model.AlertSeverityMedium, true
	}
}

func crossedUpward(baseline, current, bound float64) bool {
	return baseline < bound && current >= bound
}
