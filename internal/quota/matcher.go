// Package quota evaluates campaign quota rules against a contact for
// display. Enforcement, if any, happens server-side.
package quota

import (
	"strings"

	"github.com/dennisdiepolder/agentdesk/internal/types"
)

// Progress reports how far the first matching rule has advanced toward its
// limit
type Progress struct {
	Rule            types.QuotaRule `json:"rule"`
	Current         int             `json:"current"`
	Limit           int             `json:"limit"`
	ProgressPercent float64         `json:"progressPercent"`
}

// Match evaluates the campaign's ordered quota rules against the contact
// and returns the first match. Comparison is case-sensitive; a missing
// contact field compares as the empty string. No match returns nil.
func Match(contact *types.Contact, campaign *types.Campaign) *Progress {
	if contact == nil || campaign == nil {
		return nil
	}

	for _, rule := range campaign.QuotaRules {
		value := contact.FieldValue(rule.ContactField)

		var matched bool
		switch rule.Operator {
		case types.QuotaEquals:
			matched = value == rule.Value
		case types.QuotaStartsWith:
			matched = strings.HasPrefix(value, rule.Value)
		}
		if !matched {
			continue
		}

		percent := 0.0
		if rule.Limit > 0 {
			percent = float64(rule.CurrentCount) / float64(rule.Limit) * 100
		}
		return &Progress{
			Rule:            rule,
			Current:         rule.CurrentCount,
			Limit:           rule.Limit,
			ProgressPercent: percent,
		}
	}
	return nil
}
