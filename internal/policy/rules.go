package policy

import "encoding/json"

// Effect is a rule's access verdict.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is one entry in a policy's rule set (§4.7). An empty Operations
// list matches any operation; an empty IPAllow list means no IP
// restriction applies.
type Rule struct {
	Effect     Effect   `json:"effect"`
	PathGlob   string   `json:"path"`
	Operations []string `json:"operations,omitempty"`
	IPAllow    []string `json:"ip_allow,omitempty"`
	NotBefore  *string  `json:"not_before,omitempty"` // RFC3339, evaluated against request time
	NotAfter   *string  `json:"not_after,omitempty"`
	// TimeOfDay restricts the rule to a daily clock window, "HH:MM-HH:MM"
	// in UTC (e.g. "09:00-17:00"). Unset means no time-of-day restriction.
	TimeOfDay *string `json:"time_of_day,omitempty"`
	// DaysOfWeek restricts the rule to specific weekdays, three-letter
	// lowercase abbreviations ("mon".."sun"). Empty means every day.
	DaysOfWeek []string `json:"days_of_week,omitempty"`
	MaxLeaseS  *int     `json:"max_lease_seconds,omitempty"`
}

// RuleSet is the decoded form of a Policy's JSONB rules column.
type RuleSet struct {
	Rules []Rule `json:"rules"`
}

// ParseRuleSet decodes a policy's raw JSON rules.
func ParseRuleSet(raw []byte) (RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Marshal encodes a RuleSet back to JSON, for policy create/update.
func (rs RuleSet) Marshal() ([]byte, error) {
	return json.Marshal(rs)
}

func matchesOperation(rule Rule, op string) bool {
	if len(rule.Operations) == 0 {
		return true
	}
	for _, o := range rule.Operations {
		if o == op {
			return true
		}
	}
	return false
}
