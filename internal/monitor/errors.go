package monitor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRule is returned when a rule fails validation at registration
	ErrInvalidRule = errors.New("invalid alert rule")

	// ErrDuplicateRule is returned when a rule id is registered twice
	ErrDuplicateRule = errors.New("duplicate alert rule")

	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrDuplicateMetricKey is returned when two producers report the same metric key
	ErrDuplicateMetricKey = errors.New("metric key reported by more than one producer")

	// ErrNoProducers is returned when an engine is built without producers
	ErrNoProducers = errors.New("no producers registered")
)

// RuleValidationError names the offending rule and everything wrong with it
type RuleValidationError struct {
	RuleID   string
	Problems []string
	Err      error
}

func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("rule %q: %v: %s", e.RuleID, e.Err, strings.Join(e.Problems, "; "))
}

func (e *RuleValidationError) Unwrap() error {
	return e.Err
}
