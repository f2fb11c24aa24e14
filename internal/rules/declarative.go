package rules

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// declarativeEnv is the shared CEL environment every CEL-backed §4.2.5
// handler compiles its condition expression against; it is built once
// at package initialization and reused for every rule. Each
// rule's expression evaluates against a record/scope/params activation
// and is expected to return bool: true means the record violates the
// rule.
var declarativeEnv = mustDeclarativeEnv()

func mustDeclarativeEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("scope", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: failed to build declarative CEL environment: %v", err))
	}
	return env
}

func compileDeclarative(expr string) (cel.Program, error) {
	ast, issues := declarativeEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile declarative expression %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("declarative expression %q must return bool, got %s", expr, ast.OutputType())
	}
	return declarativeEnv.Program(ast)
}

// declarativePredicateHandler implements the §4.2.5 rule types whose
// semantics reduce to "evaluate a boolean CEL expression per record
// against its scope"; category distinguishes prohibition from
// requirement etc. purely for the emitted Finding.Category tag.
type declarativePredicateHandler struct {
	category string
	scopeBy  string // default scope grouping when params omits "scopeBy"
}

func (h declarativePredicateHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var cond domain.DeclarativeCondition
	if err := json.Unmarshal(rule.Condition, &cond); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	program, err := compileDeclarative(cond.Expression)
	if err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	scopeBy := h.scopeBy
	if v, ok := cond.Params["scopeBy"].(string); ok && v != "" {
		scopeBy = v
	}

	groups := make(map[string][]domain.BillingRecord)
	var order []string
	for _, rec := range records {
		key := scopeKey(scopeBy, rec)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	var findings []domain.Finding
	for _, key := range order {
		group := groups[key]
		scopeActivation := buildScopeActivation(group, snap)

		for _, rec := range group {
			activation := map[string]any{
				"record": recordActivation(rec, snap),
				"scope":  scopeActivation,
				"params": cond.Params,
			}

			out, _, err := program.Eval(activation)
			if err != nil {
				findings = append(findings, ruleExecutionError(rule, runID, err))
				continue
			}
			violates, ok := out.Value().(bool)
			if !ok || !violates {
				continue
			}

			findings = append(findings, domain.Finding{
				ID:              uuid.New().String(),
				ValidationRunID: runID,
				RuleID:          rule.ID,
				Severity:        rule.Severity,
				Category:        h.category,
				Message:         cond.Message,
				Solution:        cond.Solution,
				BillingRecordID: rec.ID,
				AffectedRecords: recordIDs(group),
				IDRamq:          rec.IDRamq,
				RuleData:        map[string]any{"monetaryImpact": money.Zero},
			})
		}
	}

	recordByID := recordIndex(records)
	sortFindingsStable(findings, recordByID)
	return findings
}

func scopeKey(scopeBy string, rec domain.BillingRecord) string {
	switch scopeBy {
	case "invoice":
		return rec.Facture
	case "day":
		return rec.Patient + "|" + rec.DateService.UTC().Format("2006-01-02")
	default: // "patient"
		return rec.Patient
	}
}

func recordActivation(rec domain.BillingRecord, snap refcache.Snapshot) map[string]any {
	var debut, fin string
	if rec.Debut != nil {
		debut = *rec.Debut
	}
	if rec.Fin != nil {
		fin = *rec.Fin
	}
	var montantPaye float64
	if rec.MontantPaye != nil {
		montantPaye = rec.MontantPaye.Float64()
	}
	return map[string]any{
		"code":                rec.Code,
		"unites":              rec.Unites,
		"montantPreliminaire": rec.MontantPreliminaire.Float64(),
		"montantPaye":         montantPaye,
		"isPaid":              rec.IsPaid(),
		"lieuPratique":        rec.LieuPratique,
		"isCabinet":           rec.IsCabinetRecord(),
		"secteurActivite":     rec.SecteurActivite,
		"diagnostic":          rec.Diagnostic,
		"role":                rec.Role,
		"contextTokens":       contextTokens(rec.ElementContexte),
		"debut":               debut,
		"fin":                 fin,
		"dateServiceUnix":     rec.DateService.Unix(),
		"patient":             rec.Patient,
		"facture":             rec.Facture,
	}
}

func buildScopeActivation(group []domain.BillingRecord, snap refcache.Snapshot) map[string]any {
	codes := make([]string, 0, len(group))
	var totalTariffCents int64
	for _, rec := range group {
		codes = append(codes, rec.Code)
		totalTariffCents += int64(snap.Codes[rec.Code].Tariff)
	}
	return map[string]any{
		"codes":            codes,
		"count":            len(group),
		"totalTariffCents": totalTariffCents,
	}
}

type prohibitionHandler struct{ declarativePredicateHandler }
type requirementHandler struct{ declarativePredicateHandler }
type timeRestrictionHandler struct{ declarativePredicateHandler }
type locationRestrictionHandler struct{ declarativePredicateHandler }
type amountLimitHandler struct{ declarativePredicateHandler }
type mutualExclusionHandler struct{ declarativePredicateHandler }

func newProhibitionHandler() prohibitionHandler {
	return prohibitionHandler{declarativePredicateHandler{category: string(domain.RuleTypeProhibition), scopeBy: "day"}}
}

func newRequirementHandler() requirementHandler {
	return requirementHandler{declarativePredicateHandler{category: string(domain.RuleTypeRequirement), scopeBy: "day"}}
}

func newTimeRestrictionHandler() timeRestrictionHandler {
	return timeRestrictionHandler{declarativePredicateHandler{category: string(domain.RuleTypeTimeRestriction), scopeBy: "invoice"}}
}

func newLocationRestrictionHandler() locationRestrictionHandler {
	return locationRestrictionHandler{declarativePredicateHandler{category: string(domain.RuleTypeLocationRestriction), scopeBy: "invoice"}}
}

func newAmountLimitHandler() amountLimitHandler {
	return amountLimitHandler{declarativePredicateHandler{category: string(domain.RuleTypeAmountLimit), scopeBy: "day"}}
}

func newMutualExclusionHandler() mutualExclusionHandler {
	return mutualExclusionHandler{declarativePredicateHandler{category: string(domain.RuleTypeMutualExclusion), scopeBy: "day"}}
}
