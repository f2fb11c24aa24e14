package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

func declarativeRule(ruleType domain.RuleType, cond domain.DeclarativeCondition) domain.Rule {
	raw, _ := json.Marshal(cond)
	return domain.Rule{ID: "rule-declarative", Type: ruleType, Enabled: true, Severity: domain.SeverityError, Condition: raw}
}

func TestProhibitionHandlerFlagsMatchingRecords(t *testing.T) {
	date := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Code: "K123", DateService: date, LieuPratique: "71234"},
		{ID: "r2", Patient: "patient-1", Code: "K999", DateService: date, LieuPratique: "71234"},
	}
	cond := domain.DeclarativeCondition{
		Expression: `record.code == "K123"`,
		Message:    "Le code K123 est interdit dans ce contexte.",
	}

	h := newProhibitionHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeProhibition, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].BillingRecordID != "r1" {
		t.Errorf("expected finding on r1, got %s", findings[0].BillingRecordID)
	}
	if findings[0].Category != string(domain.RuleTypeProhibition) {
		t.Errorf("expected category=%s, got %s", domain.RuleTypeProhibition, findings[0].Category)
	}
}

func TestRequirementHandlerUsesScopeCount(t *testing.T) {
	date := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Code: "A1", DateService: date},
		{ID: "r2", Patient: "patient-1", Code: "A2", DateService: date},
	}
	cond := domain.DeclarativeCondition{
		Expression: `scope.count < 2`,
		Message:    "Au moins deux codes sont requis ce jour-là.",
	}

	h := newRequirementHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeRequirement, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 0 {
		t.Errorf("expected no finding when scope.count==2 satisfies the requirement, got %d", len(findings))
	}
}

func TestTimeRestrictionHandlerScopesByInvoice(t *testing.T) {
	date := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Facture: "f1", Code: "A1", DateService: date},
		{ID: "r2", Patient: "patient-2", Facture: "f1", Code: "A2", DateService: date},
	}
	cond := domain.DeclarativeCondition{
		Expression: `scope.count > 1`,
		Message:    "Plus d'une ligne sur cette facture.",
	}

	h := newTimeRestrictionHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeTimeRestriction, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 2 {
		t.Fatalf("expected both records (grouped by invoice, not patient) to be flagged, got %d", len(findings))
	}
}

func TestDeclarativeHandlerParamsAreAvailable(t *testing.T) {
	date := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.BillingRecord{
		{ID: "r1", Patient: "patient-1", Code: "A1", DateService: date, MontantPreliminaire: 1500},
	}
	cond := domain.DeclarativeCondition{
		Expression: `record.montantPreliminaire > params.maxAmount`,
		Message:    "Montant supérieur au maximum autorisé.",
		Params:     map[string]any{"maxAmount": 10.0},
	}

	h := newAmountLimitHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeAmountLimit, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding when montantPreliminaire (15.00) exceeds maxAmount (10.00), got %d", len(findings))
	}
}

func TestDeclarativeHandlerInvalidExpressionProducesExecutionError(t *testing.T) {
	cond := domain.DeclarativeCondition{Expression: `record.code +`}
	records := []domain.BillingRecord{{ID: "r1", Patient: "patient-1"}}

	h := newProhibitionHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeProhibition, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 1 {
		t.Fatalf("expected 1 execution-error finding, got %d", len(findings))
	}
	if findings[0].Category != domain.CategoryRuleExecutionError {
		t.Errorf("expected category=%s, got %s", domain.CategoryRuleExecutionError, findings[0].Category)
	}
}

func TestDeclarativeHandlerNonBoolExpressionProducesExecutionError(t *testing.T) {
	cond := domain.DeclarativeCondition{Expression: `record.code`}
	records := []domain.BillingRecord{{ID: "r1", Patient: "patient-1", Code: "A1"}}

	h := newProhibitionHandler()
	findings := h.Validate(records, declarativeRule(domain.RuleTypeProhibition, cond), refcache.Snapshot{}, "run-1")

	if len(findings) != 1 || findings[0].Category != domain.CategoryRuleExecutionError {
		t.Fatalf("expected a single execution-error finding for a non-bool expression, got %+v", findings)
	}
}
