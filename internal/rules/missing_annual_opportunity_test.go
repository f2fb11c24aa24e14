package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

func missingAnnualOpportunityRule() domain.Rule {
	cond := domain.DeclarativeCondition{Params: map[string]any{"expectedCode": "15815"}}
	raw, _ := json.Marshal(cond)
	return domain.Rule{ID: "rule-missing-annual", Type: domain.RuleTypeMissingAnnualOpportunity, Enabled: true, Severity: domain.SeverityInfo, Condition: raw}
}

func missingAnnualOpportunitySnapshot() refcache.Snapshot {
	return refcache.Snapshot{Codes: map[string]domain.BillingCode{"15815": {Code: "15815", Tariff: 4500}}}
}

func TestMissingAnnualOpportunityFlagsPatientNeverBilled(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Code: "00103", DateService: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), IDRamq: "RAMQ-1"},
	}
	h := missingAnnualOpportunityHandler{}
	findings := h.Validate(records, missingAnnualOpportunityRule(), missingAnnualOpportunitySnapshot(), "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 opportunity finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Severity != domain.SeverityInfo {
		t.Errorf("expected info severity, got %s", f.Severity)
	}
	if f.RuleData["monetaryImpact"] != money.Cents(4500) {
		t.Errorf("expected monetaryImpact=+45.00, got %v", f.RuleData["monetaryImpact"])
	}
}

func TestMissingAnnualOpportunityNoFindingWhenCodeBilled(t *testing.T) {
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Code: "15815", DateService: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), IDRamq: "RAMQ-1"},
	}
	h := missingAnnualOpportunityHandler{}
	findings := h.Validate(records, missingAnnualOpportunityRule(), missingAnnualOpportunitySnapshot(), "run-1")
	if len(findings) != 0 {
		t.Errorf("expected no finding once the expected code has been billed, got %d", len(findings))
	}
}

func TestMissingAnnualOpportunityWithoutExpectedCodeParamReturnsNil(t *testing.T) {
	cond := domain.DeclarativeCondition{}
	raw, _ := json.Marshal(cond)
	rule := domain.Rule{ID: "rule-missing-annual", Type: domain.RuleTypeMissingAnnualOpportunity, Condition: raw}

	h := missingAnnualOpportunityHandler{}
	findings := h.Validate([]domain.BillingRecord{{ID: "r1", Patient: "patient-1"}}, rule, refcache.Snapshot{}, "run-1")
	if findings != nil {
		t.Errorf("expected nil findings without an expectedCode param, got %+v", findings)
	}
}
