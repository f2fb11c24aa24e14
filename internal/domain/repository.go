package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the store and its collaborators. SQLRepository
// returns ErrNotFound from GetRun and UpdateRun; no implementation in
// this module returns ErrInvalidInput or ErrClosed. Callers match them
// with errors.Is; wrap with fmt.Errorf("...: %w", err).
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrInvalidInput = errors.New("domain: invalid input")
	ErrClosed       = errors.New("domain: closed")
)

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Owner  string
	Stage  RunStage
	Limit  int
	Offset int
}

// ResultFilter narrows ListResults results.
type ResultFilter struct {
	ValidationRunID string
	Severity        Severity
	Limit           int
	Offset          int
}

// Repository persists billing reference data, validation runs, billing
// records and validation results. SQLRepository backs both the
// Standalone (SQLite) and Cluster (Postgres) tiers through one
// parameterized-query implementation.
type Repository interface {
	// Reference data, used to populate the Reference Cache on a miss.
	ListBillingCodes(ctx context.Context) ([]BillingCode, error)
	ListContextElements(ctx context.Context) ([]ContextElement, error)
	ListEstablishments(ctx context.Context) ([]Establishment, error)
	ListRules(ctx context.Context) ([]Rule, error)
	UpsertRule(ctx context.Context, rule Rule) error

	// Validation runs.
	CreateRun(ctx context.Context, run ValidationRun) error
	GetRun(ctx context.Context, id string) (ValidationRun, error)
	UpdateRun(ctx context.Context, run ValidationRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]ValidationRun, error)

	// Billing records, inserted in bulk once a run reaches "persisting".
	BulkInsertRecords(ctx context.Context, records []BillingRecord) error
	ListRecords(ctx context.Context, validationRunID string) ([]BillingRecord, error)

	// Validation results.
	BulkInsertResults(ctx context.Context, results []Finding) error
	ListResults(ctx context.Context, filter ResultFilter) ([]Finding, error)

	// DeleteRun cascades to the run's records and results.
	DeleteRun(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres".
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

