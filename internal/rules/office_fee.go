package rules

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// Stable scenario ids for the office-fee handler's findings (spec.md §8's
// "enumerated, stable scenario ids").
const (
	scenarioOfficeFeePass            = "P1"
	scenarioOfficeFeeThresholdNotMet = "E1"
	scenarioOfficeFeeLocation        = "E2"
	scenarioOfficeFeeDailyCapExceeded = "E5"
	scenarioOfficeFeeUpgrade         = "O1"
	scenarioOfficeFeeAddSecond       = "O2"
)

// officeFeeHandler implements spec.md §4.2.2. Grounded on
// TypologyEngine.evaluateTypology's per-group aggregation style: visits
// are tallied per (doctor, date) before every office-fee record in the
// group is classified against the tally.
type officeFeeHandler struct{}

type officeFeeGroup struct {
	doctor     string
	date       string
	visits     []domain.BillingRecord
	officeFees []domain.BillingRecord
}

func (h officeFeeHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	var params domain.OfficeFeeParams
	if err := json.Unmarshal(rule.Condition, &params); err != nil {
		return []domain.Finding{ruleExecutionError(rule, runID, err)}
	}

	groups := make(map[string]*officeFeeGroup)
	var order []string

	for _, rec := range records {
		if rec.DoctorInfo == nil || rec.DateService.IsZero() {
			continue
		}
		key := *rec.DoctorInfo + "|" + rec.DateService.UTC().Format("2006-01-02")
		g, ok := groups[key]
		if !ok {
			g = &officeFeeGroup{doctor: *rec.DoctorInfo, date: rec.DateService.UTC().Format("2006-01-02")}
			groups[key] = g
			order = append(order, key)
		}
		if rec.Code == params.CodeA || rec.Code == params.CodeB {
			g.officeFees = append(g.officeFees, rec)
		} else {
			g.visits = append(g.visits, rec)
		}
	}

	var findings []domain.Finding
	for _, key := range order {
		g := groups[key]
		if len(g.officeFees) == 0 {
			continue
		}
		findings = append(findings, h.evaluateGroup(params, snap, g, rule, runID)...)
	}

	recordByID := recordIndex(records)
	sortFindingsStable(findings, recordByID)
	return findings
}

func (h officeFeeHandler) evaluateGroup(params domain.OfficeFeeParams, snap refcache.Snapshot, g *officeFeeGroup, rule domain.Rule, runID string) []domain.Finding {
	registeredPaid, registeredUnpaid, walkInPaid, walkInUnpaid := 0, 0, 0, 0
	for _, v := range g.visits {
		walkin := hasAnyToken(contextTokens(v.ElementContexte), params.WalkInContexts)
		switch {
		case walkin && v.IsPaid():
			walkInPaid++
		case walkin && !v.IsPaid():
			walkInUnpaid++
		case !walkin && v.IsPaid():
			registeredPaid++
		default:
			registeredUnpaid++
		}
	}

	tariffA := snap.Codes[params.CodeA].Tariff
	tariffB := snap.Codes[params.CodeB].Tariff

	var findings []domain.Finding
	var paidCentsInGroup money.Cents
	registeredBilled, walkInBilled := false, false

	for _, rec := range g.officeFees {
		walkin := hasAnyToken(contextTokens(rec.ElementContexte), params.WalkInContexts)
		if walkin {
			walkInBilled = true
		} else {
			registeredBilled = true
		}
		if rec.IsPaid() {
			paidCentsInGroup += rec.PaidAmount()
		}

		if !rec.IsCabinetRecord() {
			findings = append(findings, h.locationFinding(rec, rule, runID))
			continue
		}

		var requiredMin, requiredMinOtherCode int
		var ownTariff money.Cents
		actualPaid := registeredPaid
		if walkin {
			actualPaid = walkInPaid
		}
		switch {
		case rec.Code == params.CodeA && !walkin:
			requiredMin, requiredMinOtherCode, ownTariff = params.RegisteredMinA, params.RegisteredMinB, tariffA
		case rec.Code == params.CodeB && !walkin:
			requiredMin, ownTariff = params.RegisteredMinB, tariffB
		case rec.Code == params.CodeA && walkin:
			requiredMin, requiredMinOtherCode, ownTariff = params.WalkInMinA, params.WalkInMinB, tariffA
		default: // CodeB && walkin
			requiredMin, ownTariff = params.WalkInMinB, tariffB
		}

		if actualPaid < requiredMin {
			impact := money.Zero
			if rec.IsPaid() {
				impact = -ownTariff
			}
			findings = append(findings, officeFeeFinding(rec, rule, runID, domain.SeverityError, scenarioOfficeFeeThresholdNotMet,
				fmt.Sprintf("Le code %s exige au moins %d visites payées dans le même groupe; seulement %d ont été comptabilisées.", rec.Code, requiredMin, actualPaid),
				"Annulez le frais de bureau ou ajoutez suffisamment de visites payées pour atteindre le seuil requis.",
				map[string]any{"code": rec.Code, "required": requiredMin, "actual": actualPaid, "monetaryImpact": impact}))
			continue
		}

		if rec.Code == params.CodeA && requiredMinOtherCode > 0 && actualPaid >= requiredMinOtherCode {
			gain := tariffB - tariffA
			findings = append(findings, officeFeeFinding(rec, rule, runID, domain.SeverityOptimization, scenarioOfficeFeeUpgrade,
				fmt.Sprintf("Le seuil de %d visites payées pour le code %s est atteint; remplacez le code %s par %s pour un gain de %s.", requiredMinOtherCode, params.CodeB, rec.Code, params.CodeB, gain),
				fmt.Sprintf("Remplacez le code %s par %s sur cette facture.", rec.Code, params.CodeB),
				map[string]any{"currentCode": rec.Code, "suggestedCode": params.CodeB, "monetaryImpact": gain}))
			continue
		}

		findings = append(findings, officeFeeFinding(rec, rule, runID, domain.SeverityInfo, scenarioOfficeFeePass,
			fmt.Sprintf("Le frais de bureau %s respecte le seuil requis (%d visites payées).", rec.Code, actualPaid),
			"", map[string]any{"code": rec.Code, "monetaryImpact": money.Zero}))
	}

	if !registeredBilled && registeredPaid >= params.RegisteredMinA && len(g.officeFees) > 0 {
		ref := earliestByDateDebut(g.officeFees)
		if paidCentsInGroup+tariffA <= money.Cents(params.DailyCapCents) {
			findings = append(findings, officeFeeFinding(ref, rule, runID, domain.SeverityOptimization, scenarioOfficeFeeAddSecond,
				fmt.Sprintf("Le groupe inscrit compte %d visites payées, atteignant le seuil du code %s sans qu'il soit facturé.", registeredPaid, params.CodeA),
				fmt.Sprintf("Ajoutez un second frais de bureau (%s) pour le groupe inscrit.", params.CodeA),
				map[string]any{"suggestedCode": params.CodeA, "monetaryImpact": tariffA}))
		}
	}
	if !walkInBilled && walkInPaid >= params.WalkInMinA && len(g.officeFees) > 0 {
		ref := earliestByDateDebut(g.officeFees)
		if paidCentsInGroup+tariffA <= money.Cents(params.DailyCapCents) {
			findings = append(findings, officeFeeFinding(ref, rule, runID, domain.SeverityOptimization, scenarioOfficeFeeAddSecond,
				fmt.Sprintf("Le groupe sans rendez-vous compte %d visites payées, atteignant le seuil du code %s sans qu'il soit facturé.", walkInPaid, params.CodeA),
				fmt.Sprintf("Ajoutez un second frais de bureau (%s) pour le groupe sans rendez-vous.", params.CodeA),
				map[string]any{"suggestedCode": params.CodeA, "monetaryImpact": tariffA}))
		}
	}

	if paidCentsInGroup > money.Cents(params.DailyCapCents) {
		ref := earliestByDateDebut(g.officeFees)
		excess := paidCentsInGroup - money.Cents(params.DailyCapCents)
		findings = append(findings, officeFeeFinding(ref, rule, runID, domain.SeverityError, scenarioOfficeFeeDailyCapExceeded,
			fmt.Sprintf("Le total des frais de bureau payés (%s) dépasse le maximum quotidien de %s.", paidCentsInGroup, money.Cents(params.DailyCapCents)),
			"Annulez l'un des deux frais de bureau pour respecter le maximum quotidien.",
			map[string]any{"monetaryImpact": -excess}))
	}

	return findings
}

func (h officeFeeHandler) locationFinding(rec domain.BillingRecord, rule domain.Rule, runID string) domain.Finding {
	return officeFeeFinding(rec, rule, runID, domain.SeverityError, scenarioOfficeFeeLocation,
		fmt.Sprintf("Le frais de bureau %s a été facturé à l'établissement %s, qui n'est pas un cabinet.", rec.Code, rec.LieuPratique),
		"Corrigez le lieu de pratique ou annulez ce frais de bureau.",
		map[string]any{"monetaryImpact": money.Zero})
}

func officeFeeFinding(rec domain.BillingRecord, rule domain.Rule, runID string, severity domain.Severity, scenarioID, message, solution string, ruleData map[string]any) domain.Finding {
	ruleData["scenarioId"] = scenarioID
	return domain.Finding{
		ID:              uuid.New().String(),
		ValidationRunID: runID,
		RuleID:          rule.ID,
		Severity:        severity,
		Category:        domain.CategoryOfficeFee,
		Message:         message,
		Solution:        solution,
		BillingRecordID: rec.ID,
		AffectedRecords: []string{rec.ID},
		IDRamq:          rec.IDRamq,
		RuleData:        ruleData,
	}
}
