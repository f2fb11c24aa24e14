package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

func officeFeeRule() domain.Rule {
	params := domain.OfficeFeeParams{
		CodeA:          "19928",
		CodeB:          "19929",
		WalkInContexts: []string{"#G160", "#AR"},
		RegisteredMinA: 6,
		RegisteredMinB: 12,
		WalkInMinA:     10,
		WalkInMinB:     20,
		DailyCapCents:  6480,
	}
	cond, _ := json.Marshal(params)
	return domain.Rule{ID: "rule-office-fee", Type: domain.RuleTypeOfficeFee, Enabled: true, Severity: domain.SeverityError, Condition: cond}
}

func officeFeeSnapshot() refcache.Snapshot {
	return refcache.Snapshot{
		Codes: map[string]domain.BillingCode{
			"19928": {Code: "19928", Tariff: 3240},
			"19929": {Code: "19929", Tariff: 6480},
		},
	}
}

func paidVisit(id string, doctor string, date time.Time, amountCents int64) domain.BillingRecord {
	paid := money.Cents(amountCents)
	return domain.BillingRecord{ID: id, DoctorInfo: &doctor, DateService: date, Code: "00103", MontantPaye: &paid}
}

func TestOfficeFeeScenarioC_ThresholdNotMet(t *testing.T) {
	doctor := "doc-1"
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var records []domain.BillingRecord
	for i := 0; i < 5; i++ {
		records = append(records, paidVisit("visit-"+string(rune('a'+i)), doctor, date, 2000))
	}
	records = append(records, domain.BillingRecord{ID: "fee-1", DoctorInfo: &doctor, DateService: date, Code: "19928", LieuPratique: "51234"})

	h := officeFeeHandler{}
	findings := h.Validate(records, officeFeeRule(), officeFeeSnapshot(), "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.Severity != domain.SeverityError {
		t.Errorf("expected error severity, got %s", f.Severity)
	}
	if f.RuleData["scenarioId"] != scenarioOfficeFeeThresholdNotMet {
		t.Errorf("expected scenarioId=%s, got %v", scenarioOfficeFeeThresholdNotMet, f.RuleData["scenarioId"])
	}
	if f.RuleData["required"] != 6 {
		t.Errorf("expected required=6, got %v", f.RuleData["required"])
	}
	if f.RuleData["actual"] != 5 {
		t.Errorf("expected actual=5, got %v", f.RuleData["actual"])
	}
	if f.RuleData["monetaryImpact"] != money.Zero {
		t.Errorf("expected monetaryImpact=0 when office fee unpaid, got %v", f.RuleData["monetaryImpact"])
	}
}

func TestOfficeFeeScenarioD_UpgradeOptimization(t *testing.T) {
	doctor := "doc-1"
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var records []domain.BillingRecord
	for i := 0; i < 15; i++ {
		records = append(records, paidVisit("visit-"+string(rune('a'+i)), doctor, date, 2000))
	}
	records = append(records, domain.BillingRecord{ID: "fee-1", DoctorInfo: &doctor, DateService: date, Code: "19928", LieuPratique: "51234"})

	h := officeFeeHandler{}
	findings := h.Validate(records, officeFeeRule(), officeFeeSnapshot(), "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.Severity != domain.SeverityOptimization {
		t.Errorf("expected optimization severity, got %s", f.Severity)
	}
	if f.RuleData["scenarioId"] != scenarioOfficeFeeUpgrade {
		t.Errorf("expected scenarioId=%s, got %v", scenarioOfficeFeeUpgrade, f.RuleData["scenarioId"])
	}
	if f.RuleData["currentCode"] != "19928" || f.RuleData["suggestedCode"] != "19929" {
		t.Errorf("expected currentCode=19928 suggestedCode=19929, got %v/%v", f.RuleData["currentCode"], f.RuleData["suggestedCode"])
	}
	if f.RuleData["monetaryImpact"] != money.Cents(3240) {
		t.Errorf("expected monetaryImpact=+32.40, got %v", f.RuleData["monetaryImpact"])
	}
}

func TestOfficeFeeLocationViolation(t *testing.T) {
	doctor := "doc-1"
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	records := []domain.BillingRecord{
		{ID: "fee-1", DoctorInfo: &doctor, DateService: date, Code: "19928", LieuPratique: "71234"},
	}

	h := officeFeeHandler{}
	findings := h.Validate(records, officeFeeRule(), officeFeeSnapshot(), "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].RuleData["scenarioId"] != scenarioOfficeFeeLocation {
		t.Errorf("expected location scenarioId, got %v", findings[0].RuleData["scenarioId"])
	}
}

func TestOfficeFeeDailyCapExceeded(t *testing.T) {
	doctor := "doc-1"
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var records []domain.BillingRecord
	for i := 0; i < 20; i++ {
		records = append(records, paidVisit("visit-"+string(rune('a'+i)), doctor, date, 2000))
	}
	walkinContext := "#G160"
	paidFeeA := money.Cents(3240)
	paidFeeB := money.Cents(6480)
	records = append(records,
		domain.BillingRecord{ID: "fee-1", DoctorInfo: &doctor, DateService: date, Code: "19928", LieuPratique: "51234", MontantPaye: &paidFeeA},
		domain.BillingRecord{ID: "fee-2", DoctorInfo: &doctor, DateService: date, Code: "19929", LieuPratique: "51234", ElementContexte: &walkinContext, MontantPaye: &paidFeeB},
	)

	h := officeFeeHandler{}
	findings := h.Validate(records, officeFeeRule(), officeFeeSnapshot(), "run-1")

	var sawCapExceeded bool
	for _, f := range findings {
		if f.RuleData["scenarioId"] == scenarioOfficeFeeDailyCapExceeded {
			sawCapExceeded = true
			if f.Severity != domain.SeverityError {
				t.Errorf("expected error severity for cap exceeded, got %s", f.Severity)
			}
		}
	}
	if !sawCapExceeded {
		t.Errorf("expected a daily cap exceeded finding when paid total exceeds 64.80, got %+v", findings)
	}
}
