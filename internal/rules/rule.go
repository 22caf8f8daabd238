// Package rules holds the alert rule set: rule definitions, the built-in
// defaults, a concurrent registry that evaluates every rule against an event,
// and YAML loading with hot reload.
package rules

import (
	"fmt"
	"time"

	"github.com/isdelr/alertflow/internal/models"
)

// Metadata describes the alert a rule raises.
type Metadata struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Severity   models.AlertSeverity `json:"severity"`
	Domain     string               `json:"domain"`
	Confidence float64              `json:"confidence"`
	SLAMinutes int                  `json:"slaMinutes"`
}

// Context is what a rule may read besides the event itself.
type Context struct {
	Entity *models.EntitySnapshot
	Recent []models.Event // newest first, same entity
	Now    time.Time
}

// Rule is a named, pure predicate over an event and its context.
type Rule interface {
	Meta() Metadata
	Evaluate(ev models.Event, ctx Context) (bool, error)
	Describe(ev models.Event, ctx Context) string
}

// Match is a rule that fired for an event, with the rendered description.
type Match struct {
	Rule        Metadata
	Description string
}

// RuleEvaluationError reports a single rule that failed or panicked.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }
