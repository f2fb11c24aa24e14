package refcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

// fakeRepo is a minimal in-memory domain.Repository stub for exercising
// the Reference Cache's refresh/coalescing logic without a real store.
type fakeRepo struct {
	codes          []domain.BillingCode
	contexts       []domain.ContextElement
	establishments []domain.Establishment
	rules          []domain.Rule

	codesCalls int
	rulesCalls int

	failCodes bool
	failRules bool
}

func (f *fakeRepo) ListBillingCodes(ctx context.Context) ([]domain.BillingCode, error) {
	f.codesCalls++
	if f.failCodes {
		return nil, errors.New("store unreachable")
	}
	return f.codes, nil
}

func (f *fakeRepo) ListContextElements(ctx context.Context) ([]domain.ContextElement, error) {
	return f.contexts, nil
}

func (f *fakeRepo) ListEstablishments(ctx context.Context) ([]domain.Establishment, error) {
	return f.establishments, nil
}

func (f *fakeRepo) ListRules(ctx context.Context) ([]domain.Rule, error) {
	f.rulesCalls++
	if f.failRules {
		return nil, errors.New("store unreachable")
	}
	return f.rules, nil
}

func (f *fakeRepo) UpsertRule(ctx context.Context, rule domain.Rule) error { return nil }
func (f *fakeRepo) CreateRun(ctx context.Context, run domain.ValidationRun) error { return nil }
func (f *fakeRepo) GetRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	return domain.ValidationRun{}, domain.ErrNotFound
}
func (f *fakeRepo) UpdateRun(ctx context.Context, run domain.ValidationRun) error { return nil }
func (f *fakeRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error) {
	return nil, nil
}
func (f *fakeRepo) BulkInsertRecords(ctx context.Context, records []domain.BillingRecord) error {
	return nil
}
func (f *fakeRepo) ListRecords(ctx context.Context, validationRunID string) ([]domain.BillingRecord, error) {
	return nil, nil
}
func (f *fakeRepo) BulkInsertResults(ctx context.Context, results []domain.Finding) error {
	return nil
}
func (f *fakeRepo) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.Finding, error) {
	return nil, nil
}
func (f *fakeRepo) DeleteRun(ctx context.Context, id string) error { return nil }
func (f *fakeRepo) Ping(ctx context.Context) error                { return nil }
func (f *fakeRepo) Close() error                                  { return nil }

func testCodes() []domain.BillingCode {
	return []domain.BillingCode{
		{Code: "19928", Description: "Office fee A", TopLevel: "A - FRAIS", Leaf: "Frais de bureau"},
		{Code: "8857", Description: "Intervention clinique", TopLevel: "B - CONSULTATION, EXAMEN ET VISITE", Leaf: "Intervention clinique"},
		{Code: "00103", Description: "Visite", TopLevel: "B - CONSULTATION, EXAMEN ET VISITE", Leaf: "Visite de prise en charge"},
	}
}

func TestLoadCodesBuildsIndexes(t *testing.T) {
	repo := &fakeRepo{codes: testCodes()}
	c := New(repo, DefaultConfig())

	codes, stale, err := c.LoadCodes(context.Background())
	if err != nil {
		t.Fatalf("LoadCodes failed: %v", err)
	}
	if stale {
		t.Error("expected fresh snapshot on first load")
	}
	if len(codes) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(codes))
	}

	byTop, err := c.CodesByTopLevel(context.Background())
	if err != nil {
		t.Fatalf("CodesByTopLevel failed: %v", err)
	}
	if len(byTop["B - CONSULTATION, EXAMEN ET VISITE"]) != 2 {
		t.Errorf("expected 2 codes under the B top level, got %d", len(byTop["B - CONSULTATION, EXAMEN ET VISITE"]))
	}

	byLeaf, err := c.CodesByLeaf(context.Background())
	if err != nil {
		t.Fatalf("CodesByLeaf failed: %v", err)
	}
	if len(byLeaf["Visite de prise en charge"]) != 1 {
		t.Errorf("expected 1 code for the annual leaf, got %d", len(byLeaf["Visite de prise en charge"]))
	}
}

func TestLoadCodesCachesWithinTTL(t *testing.T) {
	repo := &fakeRepo{codes: testCodes()}
	c := New(repo, DefaultConfig())

	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("first LoadCodes failed: %v", err)
	}
	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("second LoadCodes failed: %v", err)
	}

	if repo.codesCalls != 1 {
		t.Errorf("expected exactly 1 store round-trip within TTL, got %d", repo.codesCalls)
	}
}

func TestLoadCodesRefreshesAfterTTL(t *testing.T) {
	repo := &fakeRepo{codes: testCodes()}
	c := New(repo, Config{CodesTTL: time.Millisecond, RulesTTL: time.Hour, ContextsTTL: time.Hour, EstablishmentsTTL: time.Hour})

	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("first LoadCodes failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("second LoadCodes failed: %v", err)
	}

	if repo.codesCalls != 2 {
		t.Errorf("expected 2 store round-trips after TTL expiry, got %d", repo.codesCalls)
	}
}

func TestLoadRulesFiltersDisabled(t *testing.T) {
	repo := &fakeRepo{rules: []domain.Rule{
		{ID: "r1", Enabled: true},
		{ID: "r2", Enabled: false},
		{ID: "r3", Enabled: true},
	}}
	c := New(repo, DefaultConfig())

	rules, _, err := c.LoadRules(context.Background())
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", len(rules))
	}
}

func TestLoadCodesServesStaleSnapshotOnFailure(t *testing.T) {
	repo := &fakeRepo{codes: testCodes()}
	c := New(repo, Config{CodesTTL: time.Millisecond, RulesTTL: time.Hour, ContextsTTL: time.Hour, EstablishmentsTTL: time.Hour})

	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("first LoadCodes failed: %v", err)
	}

	repo.failCodes = true
	time.Sleep(5 * time.Millisecond)

	codes, stale, err := c.LoadCodes(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot instead of error, got %v", err)
	}
	if !stale {
		t.Error("expected stale flag set after a failed refresh")
	}
	if len(codes) != 3 {
		t.Errorf("expected the previous snapshot to still be served, got %d codes", len(codes))
	}
}

func TestLoadCodesFailsWithNoPriorSnapshot(t *testing.T) {
	repo := &fakeRepo{failCodes: true}
	c := New(repo, DefaultConfig())

	_, _, err := c.LoadCodes(context.Background())
	if err == nil {
		t.Error("expected a retryable error when no snapshot has ever been loaded")
	}
}

func TestSnapshotCombinesAllFourResources(t *testing.T) {
	repo := &fakeRepo{
		codes:          testCodes(),
		contexts:       []domain.ContextElement{{Name: "ICEP"}, {Name: "CLSC"}},
		establishments: []domain.Establishment{{ID: "50001", Name: "Clinique X"}},
		rules:          []domain.Rule{{ID: "r1", Enabled: true}},
	}
	c := New(repo, DefaultConfig())

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snap.Codes) != 3 || len(snap.Rules) != 1 || len(snap.Establishments) != 1 {
		t.Errorf("snapshot missing data: %+v", snap)
	}
	if !snap.HasContext("ICEP") {
		t.Error("expected ICEP to be a known context")
	}
	if snap.HasContext("EPICENE") {
		t.Error("unexpected context match for EPICENE")
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	repo := &fakeRepo{codes: testCodes()}
	c := New(repo, DefaultConfig())

	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("first LoadCodes failed: %v", err)
	}
	c.Invalidate()
	if _, _, err := c.LoadCodes(context.Background()); err != nil {
		t.Fatalf("second LoadCodes failed: %v", err)
	}

	if repo.codesCalls != 2 {
		t.Errorf("expected Invalidate to force a second round-trip, got %d calls", repo.codesCalls)
	}
}
