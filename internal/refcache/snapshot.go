// Package refcache provides warm, read-mostly snapshots of the reference
// tables (billing codes, rules, contexts, establishments) that rule
// handlers consult on every validation run.
package refcache

import (
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

// Snapshot is an immutable view of all four reference sets as of LoadedAt.
// Handlers receive a Snapshot by value; once published, a Snapshot and
// everything it points to is never mutated, so concurrent readers never
// observe a partial update.
type Snapshot struct {
	Codes           map[string]domain.BillingCode
	CodesByTopLevel map[string][]domain.BillingCode
	CodesByLeaf     map[string][]domain.BillingCode

	Rules []domain.Rule

	Contexts map[string]struct{}

	Establishments map[string]domain.Establishment

	LoadedAt time.Time
	Stale    bool
}

// CodeByLeafPattern returns every active code whose Leaf label exactly
// matches one of the given patterns, used by the annual-per-patient
// handler (spec §4.2.3) to resolve a set of human-readable leaf names
// into concrete code ids.
func (s Snapshot) CodeByLeafPattern(patterns []string) []string {
	wanted := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		wanted[p] = struct{}{}
	}

	var codes []string
	for leaf, group := range s.CodesByLeaf {
		if _, ok := wanted[leaf]; !ok {
			continue
		}
		for _, c := range group {
			if !c.Active {
				continue
			}
			codes = append(codes, c.Code)
		}
	}
	return codes
}

// HasContext reports whether name (already trimmed and upper-cased by the
// caller) is a known context element.
func (s Snapshot) HasContext(name string) bool {
	_, ok := s.Contexts[name]
	return ok
}

func buildCodeIndexes(codes []domain.BillingCode) (map[string]domain.BillingCode, map[string][]domain.BillingCode, map[string][]domain.BillingCode) {
	byCode := make(map[string]domain.BillingCode, len(codes))
	byTopLevel := make(map[string][]domain.BillingCode)
	byLeaf := make(map[string][]domain.BillingCode)

	for _, c := range codes {
		byCode[c.Code] = c
		if c.TopLevel != "" {
			byTopLevel[c.TopLevel] = append(byTopLevel[c.TopLevel], c)
		}
		if c.Leaf != "" {
			byLeaf[c.Leaf] = append(byLeaf[c.Leaf], c)
		}
	}

	return byCode, byTopLevel, byLeaf
}

func buildContextSet(contexts []domain.ContextElement) map[string]struct{} {
	set := make(map[string]struct{}, len(contexts))
	for _, c := range contexts {
		set[c.Name] = struct{}{}
	}
	return set
}

func buildEstablishmentIndex(establishments []domain.Establishment) map[string]domain.Establishment {
	byID := make(map[string]domain.Establishment, len(establishments))
	for _, e := range establishments {
		byID[e.ID] = e
	}
	return byID
}
