// Package rules turns persisted Rule definitions into executable handlers
// and evaluates them over a run's billing records (spec.md §4.2).
package rules

import (
	"sort"
	"strings"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// Handler is the common contract every rule-type handler implements: a
// pure function of (records, rule parameters, reference snapshot, runID)
// that must not mutate its input. One concrete type exists per ruleType,
// dispatched through a Registry rather than a type hierarchy, mirroring
// the tagged-variant design spec.md's Design Notes prescribe.
type Handler interface {
	Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding
}

// Registry maps a ruleType to the Handler that materializes rules of
// that type, the way the reference architecture's rules.Engine maps a
// ruleID to its *CompiledRule.
type Registry struct {
	handlers map[domain.RuleType]Handler
}

// NewRegistry builds a Registry with every handler catalogued in
// spec.md §4.2.1-4.2.5 pre-registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[domain.RuleType]Handler)}

	r.Register(domain.RuleTypeDailyTimeLimit, dailyTimeLimitHandler{})
	r.Register(domain.RuleTypeOfficeFee, officeFeeHandler{})
	r.Register(domain.RuleTypeAnnualLimit, annualLimitHandler{})
	r.Register(domain.RuleTypeVisitDurationRevenue, visitDurationRevenueHandler{})

	r.Register(domain.RuleTypeProhibition, newProhibitionHandler())
	r.Register(domain.RuleTypeRequirement, newRequirementHandler())
	r.Register(domain.RuleTypeTimeRestriction, newTimeRestrictionHandler())
	r.Register(domain.RuleTypeLocationRestriction, newLocationRestrictionHandler())
	r.Register(domain.RuleTypeAgeRestriction, ageRestrictionHandler{})
	r.Register(domain.RuleTypeAmountLimit, newAmountLimitHandler())
	r.Register(domain.RuleTypeMutualExclusion, newMutualExclusionHandler())
	r.Register(domain.RuleTypeMissingAnnualOpportunity, missingAnnualOpportunityHandler{})
	r.Register(domain.RuleTypeDeclarativeAnnualLimit, declarativeAnnualLimitHandler{})

	return r
}

// Register adds or replaces the handler for ruleType.
func (r *Registry) Register(ruleType domain.RuleType, h Handler) {
	r.handlers[ruleType] = h
}

// Lookup returns the handler for ruleType, or false if the ruleType is
// unknown. Unknown types are logged and disabled by the caller rather
// than crashing the engine, per spec.md's Design Notes.
func (r *Registry) Lookup(ruleType domain.RuleType) (Handler, bool) {
	h, ok := r.handlers[ruleType]
	return h, ok
}

// contextTokens splits a comma-separated elementContexte into trimmed,
// upper-cased tokens. A nil or empty field yields no tokens. Matching
// against these tokens must be exact: "EPICENE" must not match "ICEP".
func contextTokens(elementContexte *string) []string {
	if elementContexte == nil || *elementContexte == "" {
		return nil
	}
	parts := strings.Split(*elementContexte, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.ToUpper(strings.TrimSpace(p))
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// hasToken reports whether tokens contains want exactly.
func hasToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// hasAnyToken reports whether tokens contains any of wants, comparing
// case-insensitively and tolerating a leading "#" on either side.
func hasAnyToken(tokens []string, wants []string) bool {
	for _, w := range wants {
		normalized := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(w), "#"))
		for _, t := range tokens {
			if strings.TrimPrefix(t, "#") == normalized {
				return true
			}
		}
	}
	return false
}

// sortFindingsStable orders findings by the earliest contributing
// dateService then by facture, the ordering every declarative handler
// (spec.md §4.2.5) and most bespoke handlers must produce.
func sortFindingsStable(findings []domain.Finding, recordByID map[string]domain.BillingRecord) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, iok := recordByID[findings[i].BillingRecordID]
		rj, jok := recordByID[findings[j].BillingRecordID]
		if !iok || !jok {
			return false
		}
		if !ri.DateService.Equal(rj.DateService) {
			return ri.DateService.Before(rj.DateService)
		}
		return ri.Facture < rj.Facture
	})
}

// recordIndex builds an id -> BillingRecord lookup, used by handlers to
// resolve affectedRecords/billingRecordId back to full records.
func recordIndex(records []domain.BillingRecord) map[string]domain.BillingRecord {
	idx := make(map[string]domain.BillingRecord, len(records))
	for _, r := range records {
		idx[r.ID] = r
	}
	return idx
}

// recordIDs extracts the ids of records, preserving order.
func recordIDs(records []domain.BillingRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// earliestByDateDebut returns the record in group with the earliest
// (dateService, debut), the billingRecordId tie-breaker spec.md §4.2.1
// and §4.2.3 both require.
func earliestByDateDebut(group []domain.BillingRecord) domain.BillingRecord {
	earliest := group[0]
	for _, r := range group[1:] {
		if r.DateService.Before(earliest.DateService) {
			earliest = r
			continue
		}
		if r.DateService.Equal(earliest.DateService) && debutOf(r) < debutOf(earliest) {
			earliest = r
		}
	}
	return earliest
}

func debutOf(r domain.BillingRecord) string {
	if r.Debut == nil {
		return ""
	}
	return *r.Debut
}
