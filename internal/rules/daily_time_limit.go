package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// dailyTimeLimitHandler implements spec.md §4.2.1: intervention clinique
// (codes 8857/8859) must not exceed 180 minutes per (doctor, day).
// Grounded on TypologyEngine.evaluateTypology's grouping/summation style
// rather than the CEL engine, since the violation is a multi-record
// aggregate, not a per-record predicate.
type dailyTimeLimitHandler struct{}

type dailyTimeGroup struct {
	doctor          string
	date            string
	primaryMinutes  int
	secondaryMinutes int
	records         []domain.BillingRecord
}

func (h dailyTimeLimitHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var params domain.DailyTimeLimitParams
	if err := json.Unmarshal(rule.Condition, &params); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	excluded := make(map[string]struct{}, len(params.ExcludedContexts))
	for _, c := range params.ExcludedContexts {
		excluded[c] = struct{}{}
	}

	groups := make(map[string]*dailyTimeGroup)
	var order []string

	for _, rec := range records {
		if rec.Code != params.PrimaryCode && rec.Code != params.SecondaryCode {
			continue
		}
		if excludedByContext(rec.ElementContexte, excluded) {
			continue
		}
		if rec.DoctorInfo == nil || rec.DateService.IsZero() {
			continue
		}

		key := *rec.DoctorInfo + "|" + rec.DateService.UTC().Format("2006-01-02")
		g, ok := groups[key]
		if !ok {
			g = &dailyTimeGroup{doctor: *rec.DoctorInfo, date: rec.DateService.UTC().Format("2006-01-02")}
			groups[key] = g
			order = append(order, key)
		}

		if rec.Code == params.PrimaryCode {
			g.primaryMinutes += params.PrimaryMinutes
		} else {
			g.secondaryMinutes += parseNonNegativeMinutes(rec.Unites)
		}
		g.records = append(g.records, rec)
	}

	var findings []domain.Finding
	for _, key := range order {
		g := groups[key]
		total := g.primaryMinutes + g.secondaryMinutes
		if total <= params.MaxMinutesPerDay {
			continue
		}

		earliest := earliestByDateDebut(g.records)
		var paidImpact money.Cents
		for _, rec := range g.records {
			if rec.IsPaid() {
				paidImpact -= rec.PaidAmount()
			}
		}

		findings = append(findings, domain.Finding{
			ID:              uuid.New().String(),
			ValidationRunID: runID,
			RuleID:          rule.ID,
			Severity:        domain.SeverityError,
			Category:        domain.CategoryInterventionClinique,
			Message: fmt.Sprintf(
				"Le %s, le médecin a facturé %d minutes d'intervention clinique, dépassant le maximum quotidien de %d minutes (excédent de %d minutes).",
				g.date, total, params.MaxMinutesPerDay, total-params.MaxMinutesPerDay,
			),
			Solution: "Ajoutez un contexte exclu (ICEP, ICSM ou ICTOX) aux interventions concernées, ou annulez suffisamment de minutes pour respecter le maximum quotidien.",
			BillingRecordID: earliest.ID,
			AffectedRecords: recordIDs(g.records),
			IDRamq:          earliest.IDRamq,
			RuleData: map[string]any{
				"totalMinutes":     total,
				"limit":            params.MaxMinutesPerDay,
				"excessMinutes":    total - params.MaxMinutesPerDay,
				"code8857Minutes":  g.primaryMinutes,
				"code8859Minutes":  g.secondaryMinutes,
				"recordCount":      len(g.records),
				"doctor":           g.doctor,
				"date":             g.date,
				"monetaryImpact":   paidImpact,
			},
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].RuleData["date"].(string) < findings[j].RuleData["date"].(string)
	})

	return findings
}

func excludedByContext(elementContexte *string, excluded map[string]struct{}) bool {
	for _, tok := range contextTokens(elementContexte) {
		if _, ok := excluded[tok]; ok {
			return true
		}
	}
	return false
}

func parseNonNegativeMinutes(unites string) int {
	if unites == "" {
		return 0
	}
	n, err := strconv.Atoi(unites)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ruleExecutionError converts a handler-internal failure into the single
// error finding the engine expects instead of propagating, per spec.md
// §4.2's common handler contract.
func ruleExecutionError(rule domain.Rule, runID string, err error) domain.Finding {
	slog.Error("rule handler failed", "rule_id", rule.ID, "rule_type", rule.Type, "error", err)
	return domain.Finding{
		ID:              uuid.New().String(),
		ValidationRunID: runID,
		RuleID:          rule.ID,
		Severity:        domain.SeverityError,
		Category:        domain.CategoryRuleExecutionError,
		Message:         fmt.Sprintf("La règle « %s » a échoué pendant l'exécution : %v", rule.Name, err),
		RuleData:        map[string]any{"monetaryImpact": money.Zero},
	}
}
