package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// annualLimitHandler implements spec.md §4.2.3: a patient billed the same
// annual code more than once within a calendar year is flagged. Grouping
// uses the calendar year of the record's stored date, so 2024-12-31 and
// 2025-01-01 fall in different groups even though they are one day apart.
type annualLimitHandler struct{}

type annualGroup struct {
	patient string
	code    string
	year    int
	records []domain.BillingRecord
}

func (h annualLimitHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var params domain.AnnualLimitParams
	if err := json.Unmarshal(rule.Condition, &params); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	codes := resolveAnnualCodes(params, snap)
	if len(codes) == 0 {
		return nil
	}

	groups := make(map[string]*annualGroup)
	var order []string

	for _, rec := range records {
		if _, ok := codes[rec.Code]; !ok {
			continue
		}
		year := rec.DateService.UTC().Year()
		key := fmt.Sprintf("%s|%s|%d", rec.Patient, rec.Code, year)
		g, exists := groups[key]
		if !exists {
			g = &annualGroup{patient: rec.Patient, code: rec.Code, year: year}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, rec)
	}

	var findings []domain.Finding
	for _, key := range order {
		g := groups[key]
		if len(g.records) <= 1 {
			continue
		}
		findings = append(findings, h.groupFinding(g, rule, runID, snap))
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].IDRamq < findings[j].IDRamq
	})

	return findings
}

func (h annualLimitHandler) groupFinding(g *annualGroup, rule domain.Rule, runID string, snap refcache.Snapshot) domain.Finding {
	var paid, unpaid []domain.BillingRecord
	for _, rec := range g.records {
		if rec.IsPaid() {
			paid = append(paid, rec)
		} else {
			unpaid = append(unpaid, rec)
		}
	}
	earliest := earliestByDateDebut(g.records)

	var message, solution string
	impact := money.Zero

	switch {
	case len(unpaid) == 0:
		message = fmt.Sprintf("Le code %s a été facturé %d fois et payé %d fois pour ce patient en %d.", g.code, len(g.records), len(paid), g.year)
		solution = "Vérifiez manuellement les réclamations et entamez un suivi avec la RAMQ."
	case len(paid) > 0:
		unpaidIDs := make([]string, 0, len(unpaid))
		for _, rec := range unpaid {
			unpaidIDs = append(unpaidIDs, rec.IDRamq)
		}
		message = fmt.Sprintf("Le code %s a été payé une fois (RAMQ %s) mais refacturé sans succès pour les réclamations %s.", g.code, paid[0].IDRamq, strings.Join(unpaidIDs, ", "))
		solution = "Remplacez les entrées non payées par des facturations conformes à la réclamation déjà payée."
	default:
		message = fmt.Sprintf("Le code %s a été facturé %d fois pour ce patient en %d sans qu'aucune réclamation ne soit payée.", g.code, len(g.records), g.year)
		solution = "Enquêtez sur la raison du refus et ne conservez qu'une seule réclamation conforme."
		impact = snap.Codes[g.code].Tariff
	}

	return domain.Finding{
		ID:              uuid.New().String(),
		ValidationRunID: runID,
		RuleID:          rule.ID,
		Severity:        domain.SeverityError,
		Category:        domain.CategoryAnnualLimit,
		Message:         message,
		Solution:        solution,
		BillingRecordID: earliest.ID,
		AffectedRecords: recordIDs(g.records),
		IDRamq:          earliest.IDRamq,
		RuleData: map[string]any{
			"patient":        g.patient,
			"code":           g.code,
			"year":           g.year,
			"paidCount":      len(paid),
			"unpaidCount":    len(unpaid),
			"monetaryImpact": impact,
		},
	}
}

func resolveAnnualCodes(params domain.AnnualLimitParams, snap refcache.Snapshot) map[string]struct{} {
	set := make(map[string]struct{})
	for _, c := range params.Codes {
		set[c] = struct{}{}
	}
	for _, c := range snap.CodeByLeafPattern(params.LeafPatterns) {
		set[c] = struct{}{}
	}
	return set
}

// declarativeAnnualLimitHandler is the simpler §4.2.5 "annual_limit"
// variant parameterized by an explicit code set rather than leaf labels;
// it reuses the same grouping algorithm.
type declarativeAnnualLimitHandler struct {
	annualLimitHandler
}
