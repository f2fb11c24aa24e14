package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// visitDurationRevenueHandler implements spec.md §4.2.4: suggests
// replacing a flat-fee visit with the intervention-clinique codes when
// the actual visit duration would have paid more.
type visitDurationRevenueHandler struct{}

func (h visitDurationRevenueHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var params domain.VisitDurationRevenueParams
	if err := json.Unmarshal(rule.Condition, &params); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	shortTariff := snap.Codes[params.ShortVisitCode].Tariff
	longUnitTariff := snap.Codes[params.LongVisitCode].ExtraUnitValue

	var findings []domain.Finding
	analyzed := 0
	optimizations := 0
	var totalPotentialRevenue money.Cents
	var totalDurationMinutes int

	for _, rec := range records {
		if rec.Code == params.ShortVisitCode || rec.Code == params.LongVisitCode {
			continue
		}
		code, ok := snap.Codes[rec.Code]
		if !ok || code.TopLevel != params.EligibleTopLevel {
			continue
		}

		duration, ok := visitDurationMinutes(rec.Debut, rec.Fin)
		if !ok || duration < params.ThresholdMinutes {
			continue
		}

		analyzed++
		totalDurationMinutes += duration

		periods := int(math.Ceil(float64(duration-params.ThresholdMinutes) / 15.0))
		interventionAmount := shortTariff + money.Cents(periods)*longUnitTariff

		current := rec.MontantPreliminaire
		if interventionAmount <= current {
			continue
		}

		optimizations++
		gain := interventionAmount - current
		totalPotentialRevenue += gain

		suggestedCodes := []string{params.ShortVisitCode}
		if duration >= 45 {
			suggestedCodes = append(suggestedCodes, params.LongVisitCode)
		}

		findings = append(findings, domain.Finding{
			ID:              uuid.New().String(),
			ValidationRunID: runID,
			RuleID:          rule.ID,
			Severity:        domain.SeverityOptimization,
			Category:        domain.CategoryRevenueOptimization,
			Message: fmt.Sprintf(
				"La visite de %d minutes (code %s) aurait rapporté %s avec les codes %s plutôt que %s.",
				duration, rec.Code, interventionAmount, strings.Join(suggestedCodes, "/"), current,
			),
			Solution: fmt.Sprintf("Remplacez le code %s par %s pour cette visite.", rec.Code, strings.Join(suggestedCodes, " + ")),
			BillingRecordID: rec.ID,
			AffectedRecords: []string{rec.ID},
			IDRamq:          rec.IDRamq,
			RuleData: map[string]any{
				"currentCode":        rec.Code,
				"duration":           duration,
				"currentAmount":      current,
				"interventionAmount": interventionAmount,
				"gain":               gain,
				"suggestedCodes":     suggestedCodes,
				"monetaryImpact":     gain,
			},
		})
	}

	if analyzed > 0 {
		avgDuration := float64(totalDurationMinutes) / float64(analyzed)
		findings = append(findings, domain.Finding{
			ID:              uuid.New().String(),
			ValidationRunID: runID,
			RuleID:          rule.ID,
			Severity:        domain.SeverityInfo,
			Category:        domain.CategoryRevenueOptimization,
			Message: fmt.Sprintf(
				"%d visites analysées, %d optimisations possibles pour un potentiel de %s.",
				analyzed, optimizations, totalPotentialRevenue,
			),
			RuleData: map[string]any{
				"analyzed":              analyzed,
				"optimizations":         optimizations,
				"totalPotentialRevenue": totalPotentialRevenue,
				"optimizationRate":      float64(optimizations) / float64(analyzed),
				"avgDuration":           avgDuration,
				"monetaryImpact":        totalPotentialRevenue,
			},
		})
	}

	return findings
}

// visitDurationMinutes parses debut/fin as HH:MM and returns the duration
// in minutes, treating fin < debut as crossing midnight. Unparseable or
// missing times, or a non-positive duration, report ok=false.
func visitDurationMinutes(debut, fin *string) (int, bool) {
	if debut == nil || fin == nil || *debut == "" || *fin == "" {
		return 0, false
	}
	d, err := time.Parse("15:04", *debut)
	if err != nil {
		return 0, false
	}
	f, err := time.Parse("15:04", *fin)
	if err != nil {
		return 0, false
	}
	diff := f.Sub(d)
	if diff < 0 {
		diff += 24 * time.Hour
	}
	minutes := int(diff.Minutes())
	if minutes <= 0 {
		return 0, false
	}
	return minutes, true
}
