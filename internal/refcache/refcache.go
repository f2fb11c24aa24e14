package refcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

// Config controls the freshness window of each reference resource.
type Config struct {
	CodesTTL          time.Duration
	RulesTTL          time.Duration
	ContextsTTL       time.Duration
	EstablishmentsTTL time.Duration
}

// DefaultConfig matches spec.md's stated TTLs: codes/contexts/
// establishments refresh hourly, rules once a day.
func DefaultConfig() Config {
	return Config{
		CodesTTL:          time.Hour,
		RulesTTL:          24 * time.Hour,
		ContextsTTL:       time.Hour,
		EstablishmentsTTL: time.Hour,
	}
}

// Cache is the Reference Cache: a warm, read-mostly view of the four
// reference sets backed by domain.Repository. Each resource refreshes
// independently on its own TTL, coordinated by a lock keyed on the
// resource name so concurrent refresh requests coalesce into one store
// round-trip, mirroring the single-writer refresh discipline used by
// internal/bus and internal/cache.
type Cache struct {
	repo domain.Repository
	cfg  Config

	codesMu        sync.RWMutex
	codesRefreshMu sync.Mutex
	codes          map[string]domain.BillingCode
	codesByTop     map[string][]domain.BillingCode
	codesByLeaf    map[string][]domain.BillingCode
	codesLoadedAt  time.Time
	codesStale     bool

	rulesMu        sync.RWMutex
	rulesRefreshMu sync.Mutex
	rules          []domain.Rule
	rulesLoadedAt  time.Time
	rulesStale     bool

	contextsMu        sync.RWMutex
	contextsRefreshMu sync.Mutex
	contexts          map[string]struct{}
	contextsLoadedAt  time.Time
	contextsStale     bool

	establishmentsMu        sync.RWMutex
	establishmentsRefreshMu sync.Mutex
	establishments          map[string]domain.Establishment
	establishmentsLoadedAt  time.Time
	establishmentsStale     bool
}

// New creates a Reference Cache over repo.
func New(repo domain.Repository, cfg Config) *Cache {
	return &Cache{repo: repo, cfg: cfg}
}

// LoadCodes returns the current code-by-code map plus its two indexes.
// stale reports whether the store was unreachable on the last refresh
// attempt and a previously published snapshot is being served instead.
func (c *Cache) LoadCodes(ctx context.Context) (map[string]domain.BillingCode, bool, error) {
	c.codesMu.RLock()
	fresh := !c.codesLoadedAt.IsZero() && time.Since(c.codesLoadedAt) < c.cfg.CodesTTL
	c.codesMu.RUnlock()
	if fresh {
		c.codesMu.RLock()
		defer c.codesMu.RUnlock()
		return c.codes, c.codesStale, nil
	}

	c.codesRefreshMu.Lock()
	defer c.codesRefreshMu.Unlock()

	c.codesMu.RLock()
	fresh = !c.codesLoadedAt.IsZero() && time.Since(c.codesLoadedAt) < c.cfg.CodesTTL
	c.codesMu.RUnlock()
	if fresh {
		c.codesMu.RLock()
		defer c.codesMu.RUnlock()
		return c.codes, c.codesStale, nil
	}

	list, err := c.repo.ListBillingCodes(ctx)
	if err != nil {
		c.codesMu.Lock()
		hadSnapshot := !c.codesLoadedAt.IsZero()
		if hadSnapshot {
			c.codesStale = true
		}
		codes := c.codes
		c.codesMu.Unlock()
		if hadSnapshot {
			slog.Warn("refcache: codes refresh failed, serving stale snapshot", "error", err)
			return codes, true, nil
		}
		return nil, false, fmt.Errorf("refcache: load codes: %w", err)
	}

	byCode, byTop, byLeaf := buildCodeIndexes(list)

	c.codesMu.Lock()
	c.codes, c.codesByTop, c.codesByLeaf = byCode, byTop, byLeaf
	c.codesLoadedAt = time.Now()
	c.codesStale = false
	c.codesMu.Unlock()

	return byCode, false, nil
}

// CodesByTopLevel returns the current top-level index, refreshing if stale.
func (c *Cache) CodesByTopLevel(ctx context.Context) (map[string][]domain.BillingCode, error) {
	if _, _, err := c.LoadCodes(ctx); err != nil {
		return nil, err
	}
	c.codesMu.RLock()
	defer c.codesMu.RUnlock()
	return c.codesByTop, nil
}

// CodesByLeaf returns the current leaf index, refreshing if stale.
func (c *Cache) CodesByLeaf(ctx context.Context) (map[string][]domain.BillingCode, error) {
	if _, _, err := c.LoadCodes(ctx); err != nil {
		return nil, err
	}
	c.codesMu.RLock()
	defer c.codesMu.RUnlock()
	return c.codesByLeaf, nil
}

// LoadRules returns the ordered list of enabled rules.
func (c *Cache) LoadRules(ctx context.Context) ([]domain.Rule, bool, error) {
	c.rulesMu.RLock()
	fresh := !c.rulesLoadedAt.IsZero() && time.Since(c.rulesLoadedAt) < c.cfg.RulesTTL
	c.rulesMu.RUnlock()
	if fresh {
		c.rulesMu.RLock()
		defer c.rulesMu.RUnlock()
		return c.rules, c.rulesStale, nil
	}

	c.rulesRefreshMu.Lock()
	defer c.rulesRefreshMu.Unlock()

	c.rulesMu.RLock()
	fresh = !c.rulesLoadedAt.IsZero() && time.Since(c.rulesLoadedAt) < c.cfg.RulesTTL
	c.rulesMu.RUnlock()
	if fresh {
		c.rulesMu.RLock()
		defer c.rulesMu.RUnlock()
		return c.rules, c.rulesStale, nil
	}

	all, err := c.repo.ListRules(ctx)
	if err != nil {
		c.rulesMu.Lock()
		hadSnapshot := !c.rulesLoadedAt.IsZero()
		if hadSnapshot {
			c.rulesStale = true
		}
		rules := c.rules
		c.rulesMu.Unlock()
		if hadSnapshot {
			slog.Warn("refcache: rules refresh failed, serving stale snapshot", "error", err)
			return rules, true, nil
		}
		return nil, false, fmt.Errorf("refcache: load rules: %w", err)
	}

	enabled := make([]domain.Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	c.rulesMu.Lock()
	c.rules = enabled
	c.rulesLoadedAt = time.Now()
	c.rulesStale = false
	c.rulesMu.Unlock()

	return enabled, false, nil
}

// LoadContexts returns the set of known context-element names.
func (c *Cache) LoadContexts(ctx context.Context) (map[string]struct{}, bool, error) {
	c.contextsMu.RLock()
	fresh := !c.contextsLoadedAt.IsZero() && time.Since(c.contextsLoadedAt) < c.cfg.ContextsTTL
	c.contextsMu.RUnlock()
	if fresh {
		c.contextsMu.RLock()
		defer c.contextsMu.RUnlock()
		return c.contexts, c.contextsStale, nil
	}

	c.contextsRefreshMu.Lock()
	defer c.contextsRefreshMu.Unlock()

	c.contextsMu.RLock()
	fresh = !c.contextsLoadedAt.IsZero() && time.Since(c.contextsLoadedAt) < c.cfg.ContextsTTL
	c.contextsMu.RUnlock()
	if fresh {
		c.contextsMu.RLock()
		defer c.contextsMu.RUnlock()
		return c.contexts, c.contextsStale, nil
	}

	list, err := c.repo.ListContextElements(ctx)
	if err != nil {
		c.contextsMu.Lock()
		hadSnapshot := !c.contextsLoadedAt.IsZero()
		if hadSnapshot {
			c.contextsStale = true
		}
		contexts := c.contexts
		c.contextsMu.Unlock()
		if hadSnapshot {
			slog.Warn("refcache: contexts refresh failed, serving stale snapshot", "error", err)
			return contexts, true, nil
		}
		return nil, false, fmt.Errorf("refcache: load contexts: %w", err)
	}

	set := buildContextSet(list)

	c.contextsMu.Lock()
	c.contexts = set
	c.contextsLoadedAt = time.Now()
	c.contextsStale = false
	c.contextsMu.Unlock()

	return set, false, nil
}

// LoadEstablishments returns the establishment-by-id map.
func (c *Cache) LoadEstablishments(ctx context.Context) (map[string]domain.Establishment, bool, error) {
	c.establishmentsMu.RLock()
	fresh := !c.establishmentsLoadedAt.IsZero() && time.Since(c.establishmentsLoadedAt) < c.cfg.EstablishmentsTTL
	c.establishmentsMu.RUnlock()
	if fresh {
		c.establishmentsMu.RLock()
		defer c.establishmentsMu.RUnlock()
		return c.establishments, c.establishmentsStale, nil
	}

	c.establishmentsRefreshMu.Lock()
	defer c.establishmentsRefreshMu.Unlock()

	c.establishmentsMu.RLock()
	fresh = !c.establishmentsLoadedAt.IsZero() && time.Since(c.establishmentsLoadedAt) < c.cfg.EstablishmentsTTL
	c.establishmentsMu.RUnlock()
	if fresh {
		c.establishmentsMu.RLock()
		defer c.establishmentsMu.RUnlock()
		return c.establishments, c.establishmentsStale, nil
	}

	list, err := c.repo.ListEstablishments(ctx)
	if err != nil {
		c.establishmentsMu.Lock()
		hadSnapshot := !c.establishmentsLoadedAt.IsZero()
		if hadSnapshot {
			c.establishmentsStale = true
		}
		establishments := c.establishments
		c.establishmentsMu.Unlock()
		if hadSnapshot {
			slog.Warn("refcache: establishments refresh failed, serving stale snapshot", "error", err)
			return establishments, true, nil
		}
		return nil, false, fmt.Errorf("refcache: load establishments: %w", err)
	}

	byID := buildEstablishmentIndex(list)

	c.establishmentsMu.Lock()
	c.establishments = byID
	c.establishmentsLoadedAt = time.Now()
	c.establishmentsStale = false
	c.establishmentsMu.Unlock()

	return byID, false, nil
}

// Snapshot assembles a combined, immutable view of all four reference
// sets. If any resource has never been loaded and its store round-trip
// fails, Snapshot returns a retryable error rather than a partial view,
// per spec.md's failure semantics for a cache with no prior snapshot.
func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	codes, codesStale, err := c.LoadCodes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	rules, rulesStale, err := c.LoadRules(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	contexts, contextsStale, err := c.LoadContexts(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	establishments, establishmentsStale, err := c.LoadEstablishments(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	byTop, _ := c.CodesByTopLevel(ctx)
	byLeaf, _ := c.CodesByLeaf(ctx)

	return Snapshot{
		Codes:           codes,
		CodesByTopLevel: byTop,
		CodesByLeaf:     byLeaf,
		Rules:           rules,
		Contexts:        contexts,
		Establishments:  establishments,
		LoadedAt:        time.Now(),
		Stale:           codesStale || rulesStale || contextsStale || establishmentsStale,
	}, nil
}

// Invalidate forces the next Snapshot call to refresh every resource
// from the store, used after a write to a reference entity.
func (c *Cache) Invalidate() {
	c.codesMu.Lock()
	c.codesLoadedAt = time.Time{}
	c.codesMu.Unlock()

	c.rulesMu.Lock()
	c.rulesLoadedAt = time.Time{}
	c.rulesMu.Unlock()

	c.contextsMu.Lock()
	c.contextsLoadedAt = time.Time{}
	c.contextsMu.Unlock()

	c.establishmentsMu.Lock()
	c.establishmentsLoadedAt = time.Time{}
	c.establishmentsMu.Unlock()
}
