package rules

import (
	"fmt"
	"sync"

	"github.com/isdelr/alertflow/internal/models"
	"github.com/rs/zerolog/log"
)

// Registry is the active rule set. It is safe for concurrent use; evaluation
// works on a snapshot so a reload never blocks an in-flight evaluation.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry creates a registry holding rules in order.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	r.rules = append(r.rules, rules...)
	return r
}

// Add appends a rule. Rule ids are unique.
func (r *Registry) Add(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rule.Meta().ID
	for _, existing := range r.rules {
		if existing.Meta().ID == id {
			return fmt.Errorf("rule %s already registered", id)
		}
	}
	r.rules = append(r.rules, rule)
	log.Info().Str("rule_id", id).Str("name", rule.Meta().Name).Msg("Added rule")
	return nil
}

// Remove drops the rule with the given id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.Meta().ID == id {
			r.rules = append(r.rules[:i:i], r.rules[i+1:]...)
			log.Info().Str("rule_id", id).Msg("Removed rule")
			return true
		}
	}
	return false
}

// Replace swaps the whole rule set.
func (r *Registry) Replace(rules []Rule) {
	next := make([]Rule, len(rules))
	copy(next, rules)
	r.mu.Lock()
	r.rules = next
	r.mu.Unlock()
	log.Info().Int("count", len(next)).Msg("Rule set replaced")
}

// Rules returns a copy of the active rules.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Evaluate runs every rule against ev. A failing rule is reported in errs and
// does not stop the others.
func (r *Registry) Evaluate(ev models.Event, ctx Context) (matches []Match, errs []error) {
	for _, rule := range r.Rules() {
		meta := rule.Meta()
		ok, desc, err := evaluateOne(rule, ev, ctx)
		if err != nil {
			rerr := &RuleEvaluationError{RuleID: meta.ID, Err: err}
			log.Error().Err(err).Str("rule_id", meta.ID).Str("event_id", ev.ID).Msg("Error evaluating rule")
			errs = append(errs, rerr)
			continue
		}
		if ok {
			matches = append(matches, Match{Rule: meta, Description: desc})
		}
	}
	return matches, errs
}

func evaluateOne(rule Rule, ev models.Event, ctx Context) (ok bool, desc string, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, desc = false, ""
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	ok, err = rule.Evaluate(ev, ctx)
	if err != nil || !ok {
		return false, "", err
	}
	return true, rule.Describe(ev, ctx), nil
}
