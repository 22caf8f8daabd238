package rules

import "github.com/isdelr/alertflow/internal/models"

// DefaultDefinitions is the built-in rule set.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID: "RULE_SEC_001", Name: "Security Event Detection",
			Severity: models.SeverityHigh, Domain: "Security", Confidence: 0.85, SLAMinutes: 30,
			Kind: KindMatch, Field: "type", Equals: []string{string(models.EventSecurity)},
			Description: `Security event detected: {{or .Event.Description "No description"}} at {{or .Event.Location "Unknown location"}}`,
		},
		{
			ID: "RULE_SEV_001", Name: "Critical Severity Event",
			Severity: models.SeverityCritical, Domain: "Operations", Confidence: 0.95, SLAMinutes: 15,
			Kind: KindMatch, Field: "severity", Equals: []string{string(models.EventCritical)},
			Description: `Critical event: {{or .Event.Description "Critical severity event detected"}}`,
		},
		{
			ID: "RULE_ZONE_001", Name: "High Risk Zone Alert",
			Severity: models.SeverityHigh, Domain: "Maritime Security", Confidence: 0.8, SLAMinutes: 45,
			Kind: KindZone,
			Zones: []string{
				"Red Sea", "Gulf of Aden", "Strait of Hormuz",
				"Gulf of Guinea", "Singapore Strait", "Malacca Strait",
			},
			Description: `Event in high-risk zone: {{.Event.Location}}`,
		},
		{
			ID: "RULE_DELAY_001", Name: "Movement Delay Detection",
			Severity: models.SeverityMedium, Domain: "Operations", Confidence: 0.75, SLAMinutes: 120,
			Kind: KindDeadline, EventTypes: []string{string(models.EventOperational)}, Statuses: []string{"active"},
			Description: `Delay detected for {{.Event.EntityType}} {{.Event.EntityID}}: past deadline`,
		},
		{
			ID: "RULE_ANOM_001", Name: "Anomaly Detection",
			Severity: models.SeverityMedium, Domain: "Intelligence", Confidence: 0.7, SLAMinutes: 60,
			Kind: KindKeyword,
			Keywords: []string{
				"suspicious", "unusual", "unexpected", "unauthorized",
				"unscheduled", "deviation", "anomaly", "threat",
			},
			Description: `Potential anomaly detected: {{.Event.Description}}`,
		},
	}
}

// DefaultRules compiles DefaultDefinitions. The built-in set is known to be
// valid, so a compile error is a programming error.
func DefaultRules() []Rule {
	defs := DefaultDefinitions()
	out := make([]Rule, 0, len(defs))
	for _, d := range defs {
		r, err := d.Compile()
		if err != nil {
			panic(err)
		}
		out = append(out, r)
	}
	return out
}
