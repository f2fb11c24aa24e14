// Package engine orchestrates rule evaluation over a validation run's
// records, fanning out to enabled rules and assembling their findings in
// a deterministic order (spec.md §4.3).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/rules"
)

// Engine is stateless between runs: ValidateRecords is its only
// operation, taking the full input for one run and returning its
// findings.
type Engine struct {
	registry   *rules.Registry
	maxWorkers int
}

// New creates an Engine dispatching through registry, with handler-level
// parallelism bounded by maxWorkers.
func New(registry *rules.Registry, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Engine{registry: registry, maxWorkers: maxWorkers}
}

// ValidateRecords evaluates every enabled rule against records and
// returns their findings concatenated in rule-registration order
// (enabledRules' own order), regardless of the order in which handlers
// finish executing. One goroutine per rule is bounded by a semaphore,
// grounded on rules.Engine.EvaluateAll's sem := make(chan struct{},
// maxWorkers) pattern. A handler panic or error never escapes: it is
// converted to a single rule_execution_error finding for that rule.
func (e *Engine) ValidateRecords(ctx context.Context, records []domain.BillingRecord, enabledRules []domain.Rule, snap refcache.Snapshot, runID string) ([]domain.Finding, error) {
	if len(enabledRules) == 0 {
		return nil, nil
	}

	results := make([][]domain.Finding, len(enabledRules))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, rule := range enabledRules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wg.Add(1)
		go func(idx int, r domain.Rule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(ctx, records, r, snap, runID)
		}(i, rule)
	}

	wg.Wait()

	var findings []domain.Finding
	for _, rs := range results {
		findings = append(findings, rs...)
	}
	return findings, nil
}

func (e *Engine) evaluateRule(ctx context.Context, records []domain.BillingRecord, rule domain.Rule, snap refcache.Snapshot, runID string) (findings []domain.Finding) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule handler panicked", "rule_id", rule.ID, "rule_type", rule.Type, "panic", r)
			findings = []domain.Finding{{
				ID:              uuid.New().String(),
				ValidationRunID: runID,
				RuleID:          rule.ID,
				Severity:        domain.SeverityError,
				Category:        domain.CategoryRuleExecutionError,
				Message:         fmt.Sprintf("La règle « %s » a échoué pendant l'exécution : %v", rule.Name, r),
			}}
		}
	}()

	handler, ok := e.registry.Lookup(rule.Type)
	if !ok {
		slog.Warn("rule references an unknown ruleType, disabling", "rule_id", rule.ID, "rule_type", rule.Type)
		return nil
	}

	return handler.Validate(records, rule, snap, runID)
}
