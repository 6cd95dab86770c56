package quota

import (
	"testing"

	"github.com/dennisdiepolder/agentdesk/internal/types"
)

func TestFirstMatchWins(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "postalCode", Operator: types.QuotaStartsWith, Value: "75", Limit: 100, CurrentCount: 40},
			{ContactField: "postalCode", Operator: types.QuotaEquals, Value: "75001", Limit: 10, CurrentCount: 9},
		},
	}
	contact := &types.Contact{PostalCode: "75001"}

	progress := Match(contact, campaign)
	if progress == nil {
		t.Fatal("expected a match")
	}
	// Both rules match; the first in order wins, no aggregation
	if progress.Rule.Operator != types.QuotaStartsWith || progress.Rule.Value != "75" {
		t.Errorf("expected first rule (starts_with 75), got %+v", progress.Rule)
	}
	if progress.ProgressPercent != 40 {
		t.Errorf("expected 40%%, got %f", progress.ProgressPercent)
	}
}

func TestNoMatchReturnsNil(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "postalCode", Operator: types.QuotaEquals, Value: "13001"},
		},
	}
	if progress := Match(&types.Contact{PostalCode: "75001"}, campaign); progress != nil {
		t.Fatalf("expected nil, got %+v", progress)
	}
}

func TestMatchIsCaseSensitive(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "lastName", Operator: types.QuotaStartsWith, Value: "Mar"},
		},
	}
	if Match(&types.Contact{LastName: "martin"}, campaign) != nil {
		t.Error("starts_with must be case-sensitive")
	}
	if Match(&types.Contact{LastName: "Martin"}, campaign) == nil {
		t.Error("expected match for exact case")
	}
}

func TestMissingFieldComparesAsEmpty(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "segment", Operator: types.QuotaEquals, Value: "", Limit: 5, CurrentCount: 1},
		},
	}
	progress := Match(&types.Contact{}, campaign)
	if progress == nil {
		t.Fatal("empty rule value must match an absent field")
	}
}

func TestCustomFieldLookup(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "segment", Operator: types.QuotaEquals, Value: "gold", Limit: 20, CurrentCount: 5},
		},
	}
	contact := &types.Contact{CustomFields: map[string]string{"segment": "gold"}}
	progress := Match(contact, campaign)
	if progress == nil {
		t.Fatal("expected custom field match")
	}
	if progress.ProgressPercent != 25 {
		t.Errorf("expected 25%%, got %f", progress.ProgressPercent)
	}
}

func TestZeroLimitReportsZeroPercent(t *testing.T) {
	campaign := &types.Campaign{
		QuotaRules: []types.QuotaRule{
			{ContactField: "postalCode", Operator: types.QuotaStartsWith, Value: "75", Limit: 0, CurrentCount: 3},
		},
	}
	progress := Match(&types.Contact{PostalCode: "75010"}, campaign)
	if progress == nil {
		t.Fatal("expected match")
	}
	if progress.ProgressPercent != 0 {
		t.Errorf("expected 0%% for zero limit, got %f", progress.ProgressPercent)
	}
}

func TestNilInputs(t *testing.T) {
	if Match(nil, &types.Campaign{}) != nil {
		t.Error("nil contact must not match")
	}
	if Match(&types.Contact{}, nil) != nil {
		t.Error("nil campaign must not match")
	}
}
