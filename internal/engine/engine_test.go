package engine

import (
	"context"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/rules"
)

// panicHandler always panics, used to exercise Engine's recover boundary.
type panicHandler struct{}

func (panicHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	panic("boom")
}

// orderedHandler returns one finding tagged with the rule's ID, used to
// verify ValidateRecords concatenates results in enabledRules order
// regardless of goroutine completion order.
type orderedHandler struct {
	delay time.Duration
}

func (h orderedHandler) Validate(records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) []domain.Finding {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	return []domain.Finding{{RuleID: rule.ID, ValidationRunID: runID}}
}

func TestValidateRecordsPreservesRuleOrderDespiteParallelism(t *testing.T) {
	registry := rules.NewRegistry()
	registry.Register("slow", orderedHandler{delay: 20 * time.Millisecond})
	registry.Register("fast", orderedHandler{})

	enabledRules := []domain.Rule{
		{ID: "rule-slow", Type: "slow", Enabled: true},
		{ID: "rule-fast", Type: "fast", Enabled: true},
		{ID: "rule-fast-2", Type: "fast", Enabled: true},
	}

	e := New(registry, 10)
	findings, err := e.ValidateRecords(context.Background(), nil, enabledRules, refcache.Snapshot{}, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(findings))
	}
	want := []string{"rule-slow", "rule-fast", "rule-fast-2"}
	for i, w := range want {
		if findings[i].RuleID != w {
			t.Errorf("position %d: expected ruleID=%s, got %s", i, w, findings[i].RuleID)
		}
	}
}

func TestValidateRecordsConvertsHandlerPanicToFinding(t *testing.T) {
	registry := rules.NewRegistry()
	registry.Register("panics", panicHandler{})

	enabledRules := []domain.Rule{{ID: "rule-panic", Name: "Panicky Rule", Type: "panics", Enabled: true}}

	e := New(registry, 1)
	findings, err := e.ValidateRecords(context.Background(), nil, enabledRules, refcache.Snapshot{}, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].Category != domain.CategoryRuleExecutionError {
		t.Errorf("expected category=%s, got %s", domain.CategoryRuleExecutionError, findings[0].Category)
	}
	if findings[0].RuleID != "rule-panic" {
		t.Errorf("expected ruleId=rule-panic, got %s", findings[0].RuleID)
	}
}

func TestValidateRecordsUnknownRuleTypeIsDisabled(t *testing.T) {
	registry := rules.NewRegistry()
	enabledRules := []domain.Rule{{ID: "rule-unknown", Type: domain.RuleType("nonexistent"), Enabled: true}}

	e := New(registry, 1)
	findings, err := e.ValidateRecords(context.Background(), nil, enabledRules, refcache.Snapshot{}, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings for an unknown ruleType (the rule is disabled), got %+v", findings)
	}
}

func TestValidateRecordsNoEnabledRules(t *testing.T) {
	e := New(rules.NewRegistry(), 1)
	findings, err := e.ValidateRecords(context.Background(), nil, nil, refcache.Snapshot{}, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if findings != nil {
		t.Errorf("expected nil findings when there are no enabled rules, got %+v", findings)
	}
}

func TestValidateRecordsRespectsCancellation(t *testing.T) {
	registry := rules.NewRegistry()
	registry.Register("fast", orderedHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enabledRules := []domain.Rule{{ID: "rule-1", Type: "fast", Enabled: true}}
	e := New(registry, 1)
	_, err := e.ValidateRecords(ctx, nil, enabledRules, refcache.Snapshot{}, "run-1")
	if err == nil {
		t.Error("expected an error from an already-cancelled context")
	}
}

func TestNewDefaultsMaxWorkers(t *testing.T) {
	e := New(rules.NewRegistry(), 0)
	if e.maxWorkers != 10 {
		t.Errorf("expected default maxWorkers=10, got %d", e.maxWorkers)
	}
}
