package rules

import (
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// ageRestrictionHandler implements spec.md §4.2.5's age_restriction: a
// code requires the patient's age to fall within a range. BillingRecord
// carries no date-of-birth field, so per spec this handler always
// returns no finding rather than guessing at an unmodeled value.
type ageRestrictionHandler struct{}

func (h ageRestrictionHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	return nil
}
