package rules

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/isdelr/alertflow/internal/models"
)

// Predicate kinds.
const (
	KindMatch     = "match"
	KindKeyword   = "keyword"
	KindThreshold = "threshold"
	KindZone      = "zone"
	KindDeadline  = "deadline"
)

// Definition is the declarative form of a rule, as written in a rules file.
type Definition struct {
	ID         string               `yaml:"id"`
	Name       string               `yaml:"name"`
	Severity   models.AlertSeverity `yaml:"severity"`
	Domain     string               `yaml:"domain"`
	Confidence float64              `yaml:"confidence"`
	SLAMinutes int                  `yaml:"sla_minutes"`

	Kind       string   `yaml:"kind"`
	EventTypes []string `yaml:"event_types,omitempty"`

	// match / threshold
	Field  string   `yaml:"field,omitempty"`
	Equals []string `yaml:"equals,omitempty"`
	Op     string   `yaml:"op,omitempty"`
	Value  float64  `yaml:"value,omitempty"`

	Keywords []string `yaml:"keywords,omitempty"`
	Zones    []string `yaml:"zones,omitempty"`
	Statuses []string `yaml:"statuses,omitempty"` // deadline: entity statuses that count as late

	Description string `yaml:"description,omitempty"` // text/template
}

var errMissingField = errors.New("missing field")

// Compile validates d and returns the executable rule.
func (d Definition) Compile() (Rule, error) {
	if d.ID == "" || d.Name == "" {
		return nil, fmt.Errorf("rule definition: id and name are required")
	}
	if !models.ValidAlertSeverity(d.Severity) {
		return nil, fmt.Errorf("rule %s: invalid severity %q", d.ID, d.Severity)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, fmt.Errorf("rule %s: confidence must be within [0,1]", d.ID)
	}
	if d.SLAMinutes < 0 {
		return nil, fmt.Errorf("rule %s: sla_minutes cannot be negative", d.ID)
	}

	switch d.Kind {
	case KindMatch:
		if d.Field == "" || len(d.Equals) == 0 {
			return nil, fmt.Errorf("rule %s: match needs field and equals", d.ID)
		}
	case KindKeyword:
		if len(d.Keywords) == 0 {
			return nil, fmt.Errorf("rule %s: keyword needs keywords", d.ID)
		}
	case KindThreshold:
		if d.Field == "" {
			return nil, fmt.Errorf("rule %s: threshold needs field", d.ID)
		}
		if _, ok := comparators[d.Op]; !ok {
			return nil, fmt.Errorf("rule %s: unknown op %q", d.ID, d.Op)
		}
	case KindZone:
		if len(d.Zones) == 0 {
			return nil, fmt.Errorf("rule %s: zone needs zones", d.ID)
		}
	case KindDeadline:
		if len(d.Statuses) == 0 {
			return nil, fmt.Errorf("rule %s: deadline needs statuses", d.ID)
		}
	default:
		return nil, fmt.Errorf("rule %s: unknown kind %q", d.ID, d.Kind)
	}

	r := &definedRule{def: d}
	if d.Description != "" {
		tmpl, err := template.New(d.ID).Option("missingkey=zero").Parse(d.Description)
		if err != nil {
			return nil, fmt.Errorf("rule %s: description template: %w", d.ID, err)
		}
		r.tmpl = tmpl
	}
	for _, k := range d.Keywords {
		r.keywords = append(r.keywords, strings.ToLower(k))
	}
	for _, z := range d.Zones {
		r.zones = append(r.zones, strings.ToLower(z))
	}
	return r, nil
}

type definedRule struct {
	def      Definition
	tmpl     *template.Template
	keywords []string
	zones    []string
}

func (r *definedRule) Meta() Metadata {
	return Metadata{
		ID:         r.def.ID,
		Name:       r.def.Name,
		Severity:   r.def.Severity,
		Domain:     r.def.Domain,
		Confidence: r.def.Confidence,
		SLAMinutes: r.def.SLAMinutes,
	}
}

func (r *definedRule) Evaluate(ev models.Event, ctx Context) (bool, error) {
	if len(r.def.EventTypes) > 0 && !contains(r.def.EventTypes, string(ev.Type)) {
		return false, nil
	}

	switch r.def.Kind {
	case KindMatch:
		v, err := fieldString(ev, r.def.Field)
		if errors.Is(err, errMissingField) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return contains(r.def.Equals, v), nil

	case KindKeyword:
		if ev.Description == "" {
			return false, nil
		}
		desc := strings.ToLower(ev.Description)
		for _, k := range r.keywords {
			if strings.Contains(desc, k) {
				return true, nil
			}
		}
		return false, nil

	case KindThreshold:
		v, err := fieldNumber(ev, ctx, r.def.Field)
		if errors.Is(err, errMissingField) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return comparators[r.def.Op](v, r.def.Value), nil

	case KindZone:
		// Plain substring containment: "Red Sea Port" matches "Red Sea".
		if ev.Location == "" {
			return false, nil
		}
		loc := strings.ToLower(ev.Location)
		for _, z := range r.zones {
			if strings.Contains(loc, z) {
				return true, nil
			}
		}
		return false, nil

	case KindDeadline:
		e := ctx.Entity
		if e == nil || e.Deadline == nil {
			return false, nil
		}
		return e.Deadline.Before(ctx.Now) && contains(r.def.Statuses, e.Status), nil
	}
	return false, fmt.Errorf("unknown kind %q", r.def.Kind)
}

type describeData struct {
	Event  models.Event
	Entity *models.EntitySnapshot
	Recent []models.Event
	Rule   Metadata
}

func (r *definedRule) Describe(ev models.Event, ctx Context) string {
	if r.tmpl == nil {
		return fmt.Sprintf("%s: %s", r.def.Name, ev.Description)
	}
	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, describeData{Event: ev, Entity: ctx.Entity, Recent: ctx.Recent, Rule: r.Meta()})
	if err != nil {
		return fmt.Sprintf("%s: %s", r.def.Name, ev.Description)
	}
	return buf.String()
}

var comparators = map[string]func(a, b float64) bool{
	"gt":  func(a, b float64) bool { return a > b },
	"gte": func(a, b float64) bool { return a >= b },
	"lt":  func(a, b float64) bool { return a < b },
	"lte": func(a, b float64) bool { return a <= b },
	"eq":  func(a, b float64) bool { return a == b },
}

var severityRank = map[models.EventSeverity]float64{
	models.EventInfo:     0,
	models.EventWarning:  1,
	models.EventCritical: 2,
}

func fieldString(ev models.Event, field string) (string, error) {
	switch field {
	case "type":
		return string(ev.Type), nil
	case "severity":
		return string(ev.Severity), nil
	case "source":
		return ev.Source, nil
	case "location":
		return ev.Location, nil
	case "entity_type":
		return ev.EntityType, nil
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		v, found := ev.Metadata[key]
		if !found {
			return "", errMissingField
		}
		return v, nil
	}
	return "", fmt.Errorf("unknown field %q", field)
}

func fieldNumber(ev models.Event, ctx Context, field string) (float64, error) {
	switch field {
	case "severity_rank":
		rank, ok := severityRank[ev.Severity]
		if !ok {
			return 0, errMissingField
		}
		return rank, nil
	case "recent.count":
		return float64(len(ctx.Recent)), nil
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		raw, found := ev.Metadata[key]
		if !found {
			return 0, errMissingField
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("metadata %s is not numeric: %w", key, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("unknown numeric field %q", field)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
