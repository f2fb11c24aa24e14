package rules

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// missingAnnualOpportunityHandler implements spec.md §4.2.5's
// missing_annual_opportunity: a patient who never billed the expected
// annual code within the calendar year is flagged as a revenue
// opportunity (info severity, positive monetaryImpact), the mirror image
// of annualLimitHandler's over-billing check.
type missingAnnualOpportunityHandler struct{}

func (h missingAnnualOpportunityHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var cond domain.DeclarativeCondition
	if err := json.Unmarshal(rule.Condition, &cond); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	expectedCode, _ := cond.Params["expectedCode"].(string)
	if expectedCode == "" {
		return nil
	}
	tariff := snap.Codes[expectedCode].Tariff

	type yearGroup struct {
		patient     string
		year        int
		hasExpected bool
		records     []domain.BillingRecord
	}

	groups := make(map[string]*yearGroup)
	var order []string

	for _, rec := range records {
		year := rec.DateService.UTC().Year()
		key := fmt.Sprintf("%s|%d", rec.Patient, year)
		g, ok := groups[key]
		if !ok {
			g = &yearGroup{patient: rec.Patient, year: year}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, rec)
		if rec.Code == expectedCode {
			g.hasExpected = true
		}
	}

	var findings []domain.Finding
	for _, key := range order {
		g := groups[key]
		if g.hasExpected || len(g.records) == 0 {
			continue
		}

		earliest := earliestByDateDebut(g.records)
		message := cond.Message
		if message == "" {
			message = fmt.Sprintf("Le patient n'a jamais reçu le code annuel %s en %d.", expectedCode, g.year)
		}

		findings = append(findings, domain.Finding{
			ID:              uuid.New().String(),
			ValidationRunID: runID,
			RuleID:          rule.ID,
			Severity:        domain.SeverityInfo,
			Category:        string(domain.RuleTypeMissingAnnualOpportunity),
			Message:         message,
			Solution:        cond.Solution,
			BillingRecordID: earliest.ID,
			AffectedRecords: recordIDs(g.records),
			IDRamq:          earliest.IDRamq,
			RuleData: map[string]any{
				"patient":        g.patient,
				"year":           g.year,
				"expectedCode":   expectedCode,
				"monetaryImpact": tariff,
			},
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].IDRamq < findings[j].IDRamq
	})

	return findings
}
