//go:build integration
// +build integration

// Package integration drives full CSV-to-findings scenarios through the
// ingest and engine packages together, mirroring the worked examples in
// the billing validation reference material.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/engine"
	"github.com/montignypatrik/facnet-validator-sub007/internal/ingest"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/rules"
)

func mustCondition(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal rule condition: %v", err)
	}
	return b
}

func runScenario(t *testing.T, csv string, enabledRules []domain.Rule, snap refcache.Snapshot) []domain.Finding {
	t.Helper()

	result, err := ingest.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("csv parsing failed: %v", err)
	}

	eng := engine.New(rules.NewRegistry(), 4)
	findings, err := eng.ValidateRecords(context.Background(), result.Records, enabledRules, snap, "integration-run")
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	return findings
}

// TestScenarioA_DailyTimeLimitExceeded reproduces an uploaded CSV where
// one doctor bills three 30-minute code-8857 visits plus three code-8859
// claims for 60/30/15 units (in 15-minute steps) on the same day,
// totalling 195 minutes against a 180-minute daily cap.
func TestScenarioA_DailyTimeLimitExceeded(t *testing.T) {
	csv := "Code;Date de Service;Facture;Patient;Doctor Info;Unités;Élément de contexte\n" +
		"8857;2025-02-06;F1;NAM1;DOC1;;\n" +
		"8857;2025-02-06;F2;NAM2;DOC1;;\n" +
		"8857;2025-02-06;F3;NAM3;DOC1;;\n" +
		"8859;2025-02-06;F4;NAM4;DOC1;60;\n" +
		"8859;2025-02-06;F5;NAM5;DOC1;30;\n" +
		"8859;2025-02-06;F6;NAM6;DOC1;15;\n"

	rule := domain.Rule{
		ID: "r-daily-time", Type: domain.RuleTypeDailyTimeLimit, Enabled: true, Severity: domain.SeverityError,
		Condition: mustCondition(t, domain.DailyTimeLimitParams{
			PrimaryCode: "8857", PrimaryMinutes: 30, SecondaryCode: "8859",
			ExcludedContexts: []string{"ICEP", "ICSM", "ICTOX"}, MaxMinutesPerDay: 180,
		}),
	}

	findings := runScenario(t, csv, []domain.Rule{rule}, refcache.Snapshot{})
	if len(findings) != 1 {
		t.Fatalf("expected exactly 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.RuleData["totalMinutes"] != 195 {
		t.Errorf("expected totalMinutes=195, got %v", f.RuleData["totalMinutes"])
	}
	if f.RuleData["excessMinutes"] != 15 {
		t.Errorf("expected excessMinutes=15, got %v", f.RuleData["excessMinutes"])
	}
	if len(f.AffectedRecords) != 6 {
		t.Errorf("expected 6 affected records, got %d", len(f.AffectedRecords))
	}
}

// TestScenarioB_DailyTimeLimitICEPExcluded mirrors scenario A's record
// count but every visit carries the ICEP context, which the rule
// excludes entirely from the daily tally.
func TestScenarioB_DailyTimeLimitICEPExcluded(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Code;Date de Service;Facture;Patient;Doctor Info;Élément de contexte\n")
	for i := 0; i < 7; i++ {
		sb.WriteString("8857;2025-02-06;F" + string(rune('1'+i)) + ";NAM" + string(rune('1'+i)) + ";DOC1;ICEP\n")
	}

	rule := domain.Rule{
		ID: "r-daily-time", Type: domain.RuleTypeDailyTimeLimit, Enabled: true, Severity: domain.SeverityError,
		Condition: mustCondition(t, domain.DailyTimeLimitParams{
			PrimaryCode: "8857", PrimaryMinutes: 30, SecondaryCode: "8859",
			ExcludedContexts: []string{"ICEP", "ICSM", "ICTOX"}, MaxMinutesPerDay: 180,
		}),
	}

	findings := runScenario(t, sb.String(), []domain.Rule{rule}, refcache.Snapshot{})
	if len(findings) != 0 {
		t.Fatalf("expected no findings for ICEP-excluded visits, got %d", len(findings))
	}
}

// TestScenarioD_OfficeFeeUpgradeOptimization reproduces an office-fee
// claim at the lower tariff (19928) alongside 15 paid registered visits
// in a cabinet, which qualifies for the higher code-19929 tariff.
func TestScenarioD_OfficeFeeUpgradeOptimization(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Code;Date de Service;Facture;Patient;Doctor Info;Lieu de pratique;Montant Payé\n")
	for i := 0; i < 15; i++ {
		id := string(rune('A' + i))
		sb.WriteString("00103;2025-03-10;F" + id + ";PAT" + id + ";DOC1;51234;25,00\n")
	}
	sb.WriteString("19928;2025-03-10;FEE;PATFEE;DOC1;51234;32,40\n")

	rule := domain.Rule{
		ID: "r-office-fee", Type: domain.RuleTypeOfficeFee, Enabled: true, Severity: domain.SeverityOptimization,
		Condition: mustCondition(t, domain.OfficeFeeParams{
			CodeA: "19928", CodeB: "19929", WalkInContexts: []string{"#G160", "#AR"},
			RegisteredMinA: 6, RegisteredMinB: 12, WalkInMinA: 10, WalkInMinB: 20, DailyCapCents: 6480,
		}),
	}
	snap := refcache.Snapshot{Codes: map[string]domain.BillingCode{
		"19928": {Code: "19928", Tariff: 3240},
		"19929": {Code: "19929", Tariff: 6480},
	}}

	findings := runScenario(t, sb.String(), []domain.Rule{rule}, snap)
	if len(findings) != 1 {
		t.Fatalf("expected exactly 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Severity != domain.SeverityOptimization {
		t.Errorf("expected optimization severity, got %s", f.Severity)
	}
	if f.MonetaryImpact() != money.Cents(3240) {
		t.Errorf("expected monetaryImpact=3240, got %v", f.MonetaryImpact())
	}
}

// TestScenarioF_VisitDurationRevenueOpportunity reproduces a 30-minute
// consultation billed under a code below the topLevel "B -
// CONSULTATION..." group's intervention tariff, surfacing the
// higher-revenue 8857 suggestion.
func TestScenarioF_VisitDurationRevenueOpportunity(t *testing.T) {
	csv := "Code;Date de Service;Début;Fin;Facture;Patient;Montant Preliminaire\n" +
		"00103;2025-04-01;10:00;10:30;F1;NAM1;42,50\n"

	rule := domain.Rule{
		ID: "r-visit-duration", Type: domain.RuleTypeVisitDurationRevenue, Enabled: true, Severity: domain.SeverityOptimization,
		Condition: mustCondition(t, domain.VisitDurationRevenueParams{
			ThresholdMinutes: 30, ShortVisitCode: "8857", LongVisitCode: "8859",
			EligibleTopLevel: "B - CONSULTATION, EXAMEN ET VISITE",
		}),
	}
	snap := refcache.Snapshot{Codes: map[string]domain.BillingCode{
		"00103": {Code: "00103", TopLevel: "B - CONSULTATION, EXAMEN ET VISITE"},
		"8857":  {Code: "8857", Tariff: 5970},
		"8859":  {Code: "8859", ExtraUnitValue: 2985},
	}}

	findings := runScenario(t, csv, []domain.Rule{rule}, snap)
	if len(findings) != 2 {
		t.Fatalf("expected exactly 2 findings (the optimization and the rollup info finding), got %d", len(findings))
	}
	f := findings[0]
	if f.RuleData["duration"] != 30 {
		t.Errorf("expected duration=30, got %v", f.RuleData["duration"])
	}
	if f.MonetaryImpact() != money.Cents(1720) {
		t.Errorf("expected gain=1720, got %v", f.MonetaryImpact())
	}
}

// TestScenarioMultipleRuleTypesPreserveOrderAndIsolateFailures runs a
// batch through two bespoke rule types at once, one of them with a
// deliberately malformed condition, confirming that a single
// broken rule degrades to a rule_execution_error finding without
// blocking the others.
func TestScenarioMultipleRuleTypesPreserveOrderAndIsolateFailures(t *testing.T) {
	csv := "Code;Date de Service;Facture;Patient;Doctor Info\n" +
		"8857;2025-02-06;F1;NAM1;DOC1\n"

	rules := []domain.Rule{
		{ID: "rule-1", Type: domain.RuleTypeDailyTimeLimit, Enabled: true, Severity: domain.SeverityError, Condition: json.RawMessage(`not-json`)},
		{ID: "rule-2", Type: domain.RuleTypeAnnualLimit, Enabled: true, Severity: domain.SeverityError, Condition: mustCondition(t, domain.AnnualLimitParams{Codes: []string{"15815"}})},
	}

	findings := runScenario(t, csv, rules, refcache.Snapshot{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding (the malformed rule's execution error; rule-2 has no matching codes), got %d", len(findings))
	}
	if findings[0].Category != domain.CategoryRuleExecutionError {
		t.Errorf("expected rule_execution_error category, got %s", findings[0].Category)
	}
	if findings[0].RuleID != "rule-1" {
		t.Errorf("expected the malformed rule (rule-1) to surface the error, got %s", findings[0].RuleID)
	}
}
