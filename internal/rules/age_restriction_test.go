package rules

import (
	"testing"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

func TestAgeRestrictionHandlerAlwaysReturnsNil(t *testing.T) {
	records := []domain.BillingRecord{{ID: "r1", Patient: "patient-1", Code: "A1"}}
	rule := domain.Rule{ID: "rule-age", Type: domain.RuleTypeAgeRestriction}

	h := ageRestrictionHandler{}
	findings := h.Validate(records, rule, refcache.Snapshot{}, "run-1")
	if findings != nil {
		t.Errorf("expected nil findings since patient date of birth is not modelled, got %+v", findings)
	}
}
